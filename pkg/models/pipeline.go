// Package models defines the core data model shared by the orchestrator,
// the store and the HTTP API.
package models

import "time"

// ProjectType classifies what kind of application a pipeline builds.
// It drives Dockerfile/scaffold template selection and the exposed port.
type ProjectType string

// Known project types.
const (
	TypeStatic       ProjectType = "static"
	TypeSPA          ProjectType = "spa"
	TypeFullstack    ProjectType = "fullstack"
	TypeAPI          ProjectType = "api"
	TypePythonWorker ProjectType = "python-worker"
	TypeNodeWorker   ProjectType = "node-worker"
	TypeUnknown      ProjectType = "unknown"
)

// AgentStatus is the lifecycle state of one agent role within a pipeline.
type AgentStatus string

// Agent status constants.
const (
	AgentWaiting AgentStatus = "waiting"
	AgentActive  AgentStatus = "active"
	AgentDone    AgentStatus = "done"
	AgentError   AgentStatus = "error"
)

// AgentView is the status projection for one agent role in one pipeline.
type AgentView struct {
	Role          string      `json:"role"`
	Emoji         string      `json:"emoji"`
	Status        AgentStatus `json:"status"`
	CurrentAction string      `json:"currentAction,omitempty"`
	StartedAt     *time.Time  `json:"startedAt,omitempty"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
}

// EventType categorizes a PipelineEvent for display.
type EventType string

// Event type constants.
const (
	EventInfo    EventType = "info"
	EventSuccess EventType = "success"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
	EventDeploy  EventType = "deploy"
)

// PipelineEvent is one observable action taken by an agent.
type PipelineEvent struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipelineId"`
	Timestamp  time.Time `json:"timestamp"`
	AgentRole  string    `json:"agentRole"`
	AgentEmoji string    `json:"agentEmoji"`
	Action     string    `json:"action"`
	Type       EventType `json:"type"`
}

// GitHubInfo records the remote repository once it exists.
type GitHubInfo struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	URL   string `json:"url"`
}

// DeployInfo records the deployment once it is provisioned.
type DeployInfo struct {
	ProjectID     string `json:"projectId"`
	ApplicationID string `json:"applicationId"`
	URL           string `json:"url,omitempty"`
}

// TokenUsage is the cumulative LLM token consumption of a pipeline.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add accumulates another usage sample.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Attachment is a base64-encoded file supplied at launch or modify time.
// Forwarded to the LLM as a multipart content block; never persisted.
type Attachment struct {
	MediaType string `json:"mediaType"`
	Data      string `json:"data"`
}

// Pipeline is the root aggregate: one end-to-end project-generation job.
// It is mutated only by the worker executing it; readers receive copies.
type Pipeline struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Phase       Phase           `json:"phase"`
	ProjectType ProjectType     `json:"projectType"`
	Progress    int             `json:"progress"`
	Agents      []AgentView     `json:"agents"`
	Events      []PipelineEvent `json:"events"`
	Workspace   string          `json:"workspace"`
	GitHub      *GitHubInfo     `json:"github,omitempty"`
	Deploy      *DeployInfo     `json:"deploy,omitempty"`
	Artifacts   map[string]any  `json:"artifacts"`
	TokenUsage  TokenUsage      `json:"tokenUsage"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Error       string          `json:"error,omitempty"`
	Attachments []Attachment    `json:"-"`
}

// Clone returns a deep copy safe to hand to readers while a worker mutates
// the original under the registry lock.
func (p *Pipeline) Clone() *Pipeline {
	cp := *p
	cp.Agents = append([]AgentView(nil), p.Agents...)
	cp.Events = append([]PipelineEvent(nil), p.Events...)
	cp.Artifacts = make(map[string]any, len(p.Artifacts))
	for k, v := range p.Artifacts {
		cp.Artifacts[k] = v
	}
	if p.GitHub != nil {
		gh := *p.GitHub
		cp.GitHub = &gh
	}
	if p.Deploy != nil {
		d := *p.Deploy
		cp.Deploy = &d
	}
	return &cp
}

// Agent returns a pointer to the AgentView with the given role, or nil.
func (p *Pipeline) Agent(role string) *AgentView {
	for i := range p.Agents {
		if p.Agents[i].Role == role {
			return &p.Agents[i]
		}
	}
	return nil
}
