// Package gitrepo creates remote repositories through the source-hosting
// API and drives local git operations for pipeline workspaces.
package gitrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIURL = "https://api.github.com"

// Repo describes a remote repository.
type Repo struct {
	Owner    string
	Name     string
	URL      string
	CloneURL string
}

// Client provides HTTP access to the source-hosting API.
// A nil *Client is a valid "not configured" client: Enabled returns false.
type Client struct {
	httpClient *http.Client
	apiURL     string
	owner      string
	token      string
}

// NewClient creates a client for the given owner and token. Returns nil
// when credentials are missing, which callers treat as "disabled".
func NewClient(owner, token string) *Client {
	if owner == "" || token == "" {
		return nil
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     defaultAPIURL,
		owner:      owner,
		token:      token,
	}
}

// SetAPIURL overrides the API endpoint (used by tests).
func (c *Client) SetAPIURL(url string) {
	c.apiURL = url
}

// Enabled reports whether remote operations are configured.
func (c *Client) Enabled() bool {
	return c != nil
}

// Owner returns the configured repository owner.
func (c *Client) Owner() string {
	return c.owner
}

// createRepoRequest is the repository-creation API body.
type createRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	AutoInit    bool   `json:"auto_init"`
}

// CreateRepo creates a repository under the configured owner. HTTP 409 and
// 422 mean the repository already exists and are not errors: the existing
// repository is reused.
func (c *Client) CreateRepo(ctx context.Context, name, description string, private bool) (*Repo, error) {
	body, err := json.Marshal(createRepoRequest{
		Name:        name,
		Description: description,
		Private:     private,
		AutoInit:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create repo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/user/repos", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create repo %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		// Already exists — reuse.
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return nil, fmt.Errorf("create repo %s: HTTP %d: %s", name, resp.StatusCode, respBody)
	}

	return c.repoFor(name), nil
}

// repoFor builds the Repo descriptor for a repository name under the
// configured owner.
func (c *Client) repoFor(name string) *Repo {
	return &Repo{
		Owner:    c.owner,
		Name:     name,
		URL:      fmt.Sprintf("https://github.com/%s/%s", c.owner, name),
		CloneURL: fmt.Sprintf("https://github.com/%s/%s.git", c.owner, name),
	}
}

// AuthedCloneURL returns the clone URL with embedded credentials for
// non-interactive push/clone.
func (c *Client) AuthedCloneURL(name string) string {
	return fmt.Sprintf("https://%s:%s@github.com/%s/%s.git", c.owner, c.token, c.owner, name)
}

// Clone shallow-clones the named repository into dest using injected
// credentials.
func (c *Client) Clone(ctx context.Context, name, dest string) error {
	return Clone(ctx, c.AuthedCloneURL(name), dest)
}

// SetIdentity configures the commit identity for a checkout.
func (c *Client) SetIdentity(ctx context.Context, dir, email, name string) error {
	return SetIdentity(ctx, dir, email, name)
}

// PushAll stages, commits and pushes everything in the checkout.
func (c *Client) PushAll(ctx context.Context, dir, message string) error {
	return PushAll(ctx, dir, message)
}
