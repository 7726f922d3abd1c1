package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage     `json:"data"`
	Errors []GraphQLErrorEntry `json:"errors"`
}

// GraphQL posts query with variables and decodes the data member into
// out. A non-empty errors array returns a *GraphQLError.
func (c *Client) GraphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	encoded, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("github: encoding graphql request: %w", err)
	}
	resp, err := c.send(ctx, request{method: http.MethodPost, url: c.graphqlURL, body: encoded})
	if err != nil {
		return err
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return fmt.Errorf("github: decoding graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return &GraphQLError{Errors: envelope.Errors}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("github: decoding graphql data: %w", err)
	}
	return nil
}
