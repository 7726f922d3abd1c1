package executor

import (
	"context"
	"strings"

	"github.com/ppiankov/repogate/internal/operation"
	"github.com/ppiankov/repogate/internal/safeerr"
)

// StageVerifyProject is reported when the project ownership check fails.
const StageVerifyProject = "verify_project"

const projectByNumberQuery = `query($login: String!, $number: Int!) {
  repositoryOwner(login: $login) {
    ... on ProjectV2Owner {
      projectV2(number: $number) { id number title url closed }
    }
  }
}`

const projectOwnerQuery = `query($id: ID!) {
  node(id: $id) {
    ... on ProjectV2 {
      id
      number
      owner {
        ... on Organization { login }
        ... on User { login }
      }
    }
  }
}`

const projectFieldsQuery = `query($id: ID!) {
  node(id: $id) {
    ... on ProjectV2 {
      fields(first: 100) {
        nodes {
          ... on ProjectV2FieldCommon { id name dataType }
          ... on ProjectV2SingleSelectField { options { id name } }
        }
      }
    }
  }
}`

const itemFragment = `
  id
  type
  content {
    ... on Issue { id number title url state repository { nameWithOwner } }
    ... on PullRequest { id number title url state repository { nameWithOwner } }
    ... on DraftIssue { title }
  }
  fieldValues(first: 20) {
    nodes {
      ... on ProjectV2ItemFieldSingleSelectValue {
        name
        optionId
        field { ... on ProjectV2FieldCommon { id name } }
      }
    }
  }`

const projectItemsQuery = `query($id: ID!, $first: Int!, $after: String) {
  node(id: $id) {
    ... on ProjectV2 {
      items(first: $first, after: $after) {
        pageInfo { hasNextPage endCursor }
        nodes {` + itemFragment + `
        }
      }
    }
  }
}`

const projectItemQuery = `query($id: ID!) {
  node(id: $id) {
    ... on ProjectV2Item {
      project { id }` + itemFragment + `
    }
  }
}`

const addItemMutation = `mutation($project: ID!, $content: ID!) {
  addProjectV2ItemById(input: {projectId: $project, contentId: $content}) {
    item { id }
  }
}`

const setFieldMutation = `mutation($project: ID!, $item: ID!, $field: ID!, $option: String!) {
  updateProjectV2ItemFieldValue(input: {
    projectId: $project, itemId: $item, fieldId: $field,
    value: {singleSelectOptionId: $option}
  }) {
    projectV2Item { id }
  }
}`

type projectSummary struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Closed bool   `json:"closed"`
}

func getProjectByNumber(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	var resp struct {
		RepositoryOwner *struct {
			ProjectV2 *projectSummary `json:"projectV2"`
		} `json:"repositoryOwner"`
	}
	vars := map[string]any{"login": in.str("owner_login"), "number": in.int("project_number")}
	if err := x.API.GraphQL(ctx, projectByNumberQuery, vars, &resp); err != nil {
		return nil, err
	}
	if resp.RepositoryOwner == nil || resp.RepositoryOwner.ProjectV2 == nil {
		return nil, safeerr.New(safeerr.NotFound, "project not found")
	}
	p := resp.RepositoryOwner.ProjectV2
	return map[string]any{
		"project_id": p.ID,
		"number":     p.Number,
		"title":      p.Title,
		"url":        p.URL,
		"closed":     p.Closed,
	}, nil
}

// verifyProject resolves project_id and checks it is the board named
// by owner_login and project_number. Policy only sees the latter pair,
// so a node id from another owner must not slip through.
func verifyProject(ctx context.Context, x *Exec, op string, in args) (string, error) {
	id := in.str("project_id")
	var resp struct {
		Node *struct {
			ID     string `json:"id"`
			Number int    `json:"number"`
			Owner  struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"node"`
	}
	if err := x.API.GraphQL(ctx, projectOwnerQuery, map[string]any{"id": id}, &resp); err != nil {
		return "", stage(op, StageVerifyProject, err)
	}
	if resp.Node == nil || resp.Node.ID == "" {
		return "", safeerr.New(safeerr.NotFound, "project not found")
	}
	if resp.Node.Number != in.int("project_number") || !strings.EqualFold(resp.Node.Owner.Login, in.str("owner_login")) {
		return "", safeerr.New(safeerr.Forbidden, "project_id does not belong to the allowlisted project")
	}
	return id, nil
}

func listProjectFields(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	id, err := verifyProject(ctx, x, operation.ListProjectFields, in)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Node *struct {
			Fields struct {
				Nodes []struct {
					ID       string `json:"id"`
					Name     string `json:"name"`
					DataType string `json:"dataType"`
					Options  []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"options"`
				} `json:"nodes"`
			} `json:"fields"`
		} `json:"node"`
	}
	if err := x.API.GraphQL(ctx, projectFieldsQuery, map[string]any{"id": id}, &resp); err != nil {
		return nil, err
	}
	if resp.Node == nil {
		return nil, safeerr.New(safeerr.NotFound, "project not found")
	}

	fields := make([]any, 0, len(resp.Node.Fields.Nodes))
	for _, f := range resp.Node.Fields.Nodes {
		if f.ID == "" {
			continue
		}
		field := map[string]any{"id": f.ID, "name": f.Name, "data_type": f.DataType}
		if len(f.Options) > 0 {
			opts := make([]any, 0, len(f.Options))
			for _, o := range f.Options {
				opts = append(opts, map[string]any{"id": o.ID, "name": o.Name})
			}
			field["options"] = opts
		}
		fields = append(fields, field)
	}
	return map[string]any{"fields": fields}, nil
}

type projectItem struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Project *struct {
		ID string `json:"id"`
	} `json:"project,omitempty"`
	Content *struct {
		ID         string `json:"id"`
		Number     int    `json:"number"`
		Title      string `json:"title"`
		URL        string `json:"url"`
		State      string `json:"state"`
		Repository *struct {
			NameWithOwner string `json:"nameWithOwner"`
		} `json:"repository"`
	} `json:"content"`
	FieldValues struct {
		Nodes []struct {
			Name     string `json:"name"`
			OptionID string `json:"optionId"`
			Field    *struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"field"`
		} `json:"nodes"`
	} `json:"fieldValues"`
}

func (it projectItem) hasOption(optionID string) bool {
	for _, v := range it.FieldValues.Nodes {
		if v.OptionID == optionID {
			return true
		}
	}
	return false
}

func (it projectItem) data() map[string]any {
	out := map[string]any{"item_id": it.ID, "type": it.Type}
	if c := it.Content; c != nil {
		content := map[string]any{"title": c.Title}
		if c.ID != "" {
			content["node_id"] = c.ID
			content["number"] = c.Number
			content["url"] = c.URL
			content["state"] = c.State
		}
		if c.Repository != nil {
			content["repository"] = c.Repository.NameWithOwner
		}
		out["content"] = content
	}
	values := make([]any, 0, len(it.FieldValues.Nodes))
	for _, v := range it.FieldValues.Nodes {
		if v.Field == nil || v.OptionID == "" {
			continue
		}
		values = append(values, map[string]any{
			"field_id":   v.Field.ID,
			"field_name": v.Field.Name,
			"option_id":  v.OptionID,
			"name":       v.Name,
		})
	}
	out["single_select_values"] = values
	return out
}

func listProjectItems(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	id, err := verifyProject(ctx, x, operation.ListProjectItems, in)
	if err != nil {
		return nil, err
	}
	first := operation.DefaultPageSize
	if n, ok := in.optInt("page_size"); ok {
		first = n
	}
	vars := map[string]any{"id": id, "first": first}
	if after, ok := in.optStr("after_cursor"); ok && after != "" {
		vars["after"] = after
	}

	var resp struct {
		Node *struct {
			Items struct {
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
				Nodes []projectItem `json:"nodes"`
			} `json:"items"`
		} `json:"node"`
	}
	if err := x.API.GraphQL(ctx, projectItemsQuery, vars, &resp); err != nil {
		return nil, err
	}
	if resp.Node == nil {
		return nil, safeerr.New(safeerr.NotFound, "project not found")
	}

	status, filtered := in.optStr("status_option_id")
	filtered = filtered && status != ""
	items := make([]any, 0, len(resp.Node.Items.Nodes))
	for _, it := range resp.Node.Items.Nodes {
		if filtered && !it.hasOption(status) {
			continue
		}
		items = append(items, it.data())
	}
	page := resp.Node.Items.PageInfo
	return map[string]any{
		"items": items,
		"page_info": map[string]any{
			"has_next_page": page.HasNextPage,
			"end_cursor":    page.EndCursor,
		},
	}, nil
}

func getProjectItem(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	id, err := verifyProject(ctx, x, operation.GetProjectItem, in)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Node *projectItem `json:"node"`
	}
	if err := x.API.GraphQL(ctx, projectItemQuery, map[string]any{"id": in.str("item_id")}, &resp); err != nil {
		return nil, err
	}
	if resp.Node == nil || resp.Node.ID == "" {
		return nil, safeerr.New(safeerr.NotFound, "project item not found")
	}
	if resp.Node.Project == nil || resp.Node.Project.ID != id {
		return nil, safeerr.New(safeerr.Forbidden, "item does not belong to the project")
	}
	return resp.Node.data(), nil
}

func addIssueToProject(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	id, err := verifyProject(ctx, x, operation.AddIssueToProject, in)
	if err != nil {
		return nil, err
	}
	var resp struct {
		AddProjectV2ItemByID struct {
			Item struct {
				ID string `json:"id"`
			} `json:"item"`
		} `json:"addProjectV2ItemById"`
	}
	vars := map[string]any{"project": id, "content": in.str("issue_node_id")}
	if err := x.API.GraphQL(ctx, addItemMutation, vars, &resp); err != nil {
		return nil, stage(operation.AddIssueToProject, "add_item", err)
	}
	return map[string]any{"item_id": resp.AddProjectV2ItemByID.Item.ID}, nil
}

func setProjectItemField(ctx context.Context, x *Exec, in args) (map[string]any, error) {
	id, err := verifyProject(ctx, x, operation.SetProjectItemStatus, in)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Update struct {
			Item struct {
				ID string `json:"id"`
			} `json:"projectV2Item"`
		} `json:"updateProjectV2ItemFieldValue"`
	}
	vars := map[string]any{
		"project": id,
		"item":    in.str("item_id"),
		"field":   in.str("field_id"),
		"option":  in.str("single_select_option_id"),
	}
	if err := x.API.GraphQL(ctx, setFieldMutation, vars, &resp); err != nil {
		return nil, stage(operation.SetProjectItemStatus, "update_field", err)
	}
	return map[string]any{
		"item_id":   resp.Update.Item.ID,
		"field_id":  in.str("field_id"),
		"option_id": in.str("single_select_option_id"),
	}, nil
}
