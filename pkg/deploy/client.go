// Package deploy talks to the deployment platform API: project and
// application provisioning, domains, deploy triggers, status and logs.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Deployment statuses reported by the platform.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Project is a provisioned deployment project.
type Project struct {
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
}

// Application is a provisioned application inside a project.
type Application struct {
	ApplicationID string `json:"applicationId"`
	AppName       string `json:"appName"`
}

// Domain is a provisioned HTTP entry point for an application.
type Domain struct {
	DomainID string `json:"domainId"`
	Host     string `json:"host"`
}

// Deployment is the state of one build/deploy run.
type Deployment struct {
	Status string `json:"status"`
	Log    string `json:"log,omitempty"`
}

// ApplicationSpec describes the application to create.
type ApplicationSpec struct {
	Name          string `json:"name"`
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
	Owner         string `json:"owner"`
	Repo          string `json:"repo"`
	Branch        string `json:"branch"`
	BuildType     string `json:"buildType"`
}

// Client provides HTTP access to the deployment platform.
// A nil *Client is a valid "not configured" client: Enabled returns false.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	baseDomain string
}

// NewClient creates a client. Returns nil when credentials are missing,
// which callers treat as "disabled".
func NewClient(baseURL, token, baseDomain string) *Client {
	if baseURL == "" || token == "" {
		return nil
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
		baseDomain: baseDomain,
	}
}

// Enabled reports whether the deployment platform is configured.
func (c *Client) Enabled() bool {
	return c != nil
}

// BaseDomain returns the DNS suffix for generated application hosts.
func (c *Client) BaseDomain() string {
	return c.baseDomain
}

// CreateProject provisions a deployment project.
func (c *Client) CreateProject(ctx context.Context, name, description string) (*Project, error) {
	var project Project
	err := c.post(ctx, "/api/projects", map[string]string{
		"name":        name,
		"description": description,
	}, &project)
	if err != nil {
		return nil, fmt.Errorf("create project %s: %w", name, err)
	}
	return &project, nil
}

// CreateApplication provisions an application linked to a git repository.
func (c *Client) CreateApplication(ctx context.Context, spec ApplicationSpec) (*Application, error) {
	var app Application
	if err := c.post(ctx, "/api/applications", spec, &app); err != nil {
		return nil, fmt.Errorf("create application %s: %w", spec.Name, err)
	}
	return &app, nil
}

// CreateDomain provisions a domain routing host traffic to the
// application's container port.
func (c *Client) CreateDomain(ctx context.Context, applicationID, host string, port int) (*Domain, error) {
	var domain Domain
	err := c.post(ctx, "/api/domains", map[string]any{
		"applicationId": applicationID,
		"host":          host,
		"port":          port,
	}, &domain)
	if err != nil {
		return nil, fmt.Errorf("create domain %s: %w", host, err)
	}
	return &domain, nil
}

// TriggerDeploy starts a build and deployment of the application.
func (c *Client) TriggerDeploy(ctx context.Context, applicationID string) error {
	path := fmt.Sprintf("/api/applications/%s/deploy", applicationID)
	if err := c.post(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("trigger deploy %s: %w", applicationID, err)
	}
	return nil
}

// LatestDeployment returns the most recent deployment of the application.
func (c *Client) LatestDeployment(ctx context.Context, applicationID string) (*Deployment, error) {
	var deployment Deployment
	path := fmt.Sprintf("/api/applications/%s/deployments/latest", applicationID)
	if err := c.get(ctx, path, &deployment); err != nil {
		return nil, fmt.Errorf("latest deployment %s: %w", applicationID, err)
	}
	return &deployment, nil
}

// BuildLogs returns the build log of the latest deployment.
func (c *Client) BuildLogs(ctx context.Context, applicationID string) (string, error) {
	var payload struct {
		Logs string `json:"logs"`
	}
	path := fmt.Sprintf("/api/applications/%s/deployments/latest/logs", applicationID)
	if err := c.get(ctx, path, &payload); err != nil {
		return "", fmt.Errorf("build logs %s: %w", applicationID, err)
	}
	return payload.Logs, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
