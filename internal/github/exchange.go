package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ppiankov/repogate/internal/credential"
)

// ExchangeInstallationToken trades an App assertion for an
// installation token. 401 and 403 wrap credential.ErrRejected.
// Transient failures share the client's retry budget.
func (c *Client) ExchangeInstallationToken(ctx context.Context, assertion string, installationID int64) (credential.Token, error) {
	req := request{
		method: http.MethodPost,
		url:    c.baseURL + "/app/installations/" + strconv.FormatInt(installationID, 10) + "/access_tokens",
		auth:   "Bearer " + assertion,
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		if IsUnauthorized(err) || IsForbidden(err) {
			return credential.Token{}, fmt.Errorf("%w: HTTP %d", credential.ErrRejected, statusOf(err))
		}
		return credential.Token{}, err
	}
	if resp.StatusCode != http.StatusCreated {
		return credential.Token{}, fmt.Errorf("github: token exchange returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return credential.Token{}, fmt.Errorf("github: decoding token exchange response")
	}
	if result.Token == "" {
		return credential.Token{}, fmt.Errorf("github: token exchange returned empty token")
	}
	return credential.Token{Value: result.Token, ExpiresAt: result.ExpiresAt}, nil
}
