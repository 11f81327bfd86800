// Package orchestrator owns the pipeline registry and drives each pipeline
// through its phase state machine with one worker goroutine per pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appforge/appforge/pkg/agent"
	"github.com/appforge/appforge/pkg/config"
	"github.com/appforge/appforge/pkg/deploy"
	"github.com/appforge/appforge/pkg/events"
	"github.com/appforge/appforge/pkg/gitrepo"
	"github.com/appforge/appforge/pkg/llm"
	"github.com/appforge/appforge/pkg/models"
	"github.com/appforge/appforge/pkg/skills"
	"github.com/appforge/appforge/pkg/store"
)

// killReason is the terminal error recorded on manual cancellation.
const killReason = "arrêté manuellement"

// interruptedReason marks pipelines found non-terminal at startup.
const interruptedReason = "interrupted"

// Sentinel errors surfaced to the API layer.
var (
	ErrNotFound    = errors.New("pipeline not found")
	ErrNotTerminal = errors.New("pipeline is not in a terminal phase")
	ErrRunning     = errors.New("pipeline worker is running")
)

// RepoClient is the source-hosting capability used by phase runners.
// A disabled client reports Enabled() == false and is never called further.
type RepoClient interface {
	Enabled() bool
	Owner() string
	CreateRepo(ctx context.Context, name, description string, private bool) (*gitrepo.Repo, error)
	Clone(ctx context.Context, name, dest string) error
	SetIdentity(ctx context.Context, dir, email, name string) error
	PushAll(ctx context.Context, dir, message string) error
}

// DeployClient is the deployment-platform capability used by phase runners.
type DeployClient interface {
	Enabled() bool
	BaseDomain() string
	CreateProject(ctx context.Context, name, description string) (*deploy.Project, error)
	CreateApplication(ctx context.Context, spec deploy.ApplicationSpec) (*deploy.Application, error)
	CreateDomain(ctx context.Context, applicationID, host string, port int) (*deploy.Domain, error)
	TriggerDeploy(ctx context.Context, applicationID string) error
	LatestDeployment(ctx context.Context, applicationID string) (*deploy.Deployment, error)
	BuildLogs(ctx context.Context, applicationID string) (string, error)
}

// SkillsFinder is the skills-catalog capability used by the architecture
// phase. Best-effort: failures yield an empty result.
type SkillsFinder interface {
	FindForContext(ctx context.Context, keywords []string, limit int) []skills.Skill
}

// Orchestrator is the pipeline registry and scheduler.
type Orchestrator struct {
	cfg       *config.Config
	store     *store.Store
	publisher *events.Publisher
	runner    *agent.Runner
	llm       llm.Client
	repo      RepoClient
	deploy    DeployClient
	skills    SkillsFinder

	mu        sync.Mutex
	pipelines map[string]*models.Pipeline
	running   map[string]context.CancelFunc

	saveMu sync.Mutex
	wg     sync.WaitGroup
}

// New wires an Orchestrator. repo, deployClient and skillsFinder may be
// disabled (nil-backed) capabilities.
func New(cfg *config.Config, st *store.Store, pub *events.Publisher, llmClient llm.Client,
	repo RepoClient, deployClient DeployClient, skillsFinder SkillsFinder) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		publisher: pub,
		runner:    agent.NewRunner(llmClient),
		llm:       llmClient,
		repo:      repo,
		deploy:    deployClient,
		skills:    skillsFinder,
		pipelines: make(map[string]*models.Pipeline),
		running:   make(map[string]context.CancelFunc),
	}
}

// LoadFromStore repopulates the registry from disk. Pipelines found in a
// non-terminal phase were interrupted by a process restart and are marked
// FAILED: their workers are gone and cannot be resumed safely.
func (o *Orchestrator) LoadFromStore() error {
	pipelines, err := o.store.Load()
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}

	interrupted := 0
	for _, p := range pipelines {
		if !p.Phase.Terminal() {
			p.Phase = models.PhaseFailed
			p.Error = interruptedReason
			p.UpdatedAt = time.Now()
			interrupted++
		}
	}

	o.mu.Lock()
	o.pipelines = pipelines
	o.mu.Unlock()

	if interrupted > 0 {
		slog.Warn("Marked interrupted pipelines as failed", "count", interrupted)
		if err := o.persist(); err != nil {
			return err
		}
	}
	slog.Info("Loaded pipelines from store", "count", len(pipelines))
	return nil
}

// Stop signals every running worker and waits for them to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	for id, cancel := range o.running {
		slog.Info("Cancelling pipeline worker for shutdown", "pipeline_id", id)
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// slugRe strips everything that is not a lowercase slug character.
var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives the pipeline name from the user-supplied name or idea.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 30 {
		s = strings.Trim(s[:30], "-")
	}
	if s == "" {
		s = "project"
	}
	return s
}

// LaunchIdea creates a new pipeline and starts its worker. Returns a
// snapshot of the created pipeline immediately.
func (o *Orchestrator) LaunchIdea(description, name string, attachments []models.Attachment) (*models.Pipeline, error) {
	id := uuid.New().String()[:8]
	if name == "" {
		name = description
	}

	workspace := filepath.Join(o.cfg.WorkspaceRoot, id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", workspace, err)
	}

	now := time.Now()
	p := &models.Pipeline{
		ID:          id,
		Name:        slugify(name),
		Description: description,
		Phase:       models.PhaseQueued,
		ProjectType: models.TypeUnknown,
		Agents:      agent.DefaultAgentViews(),
		Workspace:   workspace,
		Artifacts:   make(map[string]any),
		CreatedAt:   now,
		UpdatedAt:   now,
		Attachments: attachments,
	}

	o.mu.Lock()
	o.pipelines[id] = p
	o.mu.Unlock()

	if err := o.persist(); err != nil {
		return nil, err
	}

	slog.Info("Pipeline launched", "pipeline_id", id, "name", p.Name)
	o.startWorker(id, o.runPipeline)
	return p.Clone(), nil
}

// ListPipelines returns snapshots of every pipeline, newest first.
func (o *Orchestrator) ListPipelines() []*models.Pipeline {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := make([]*models.Pipeline, 0, len(o.pipelines))
	for _, p := range o.pipelines {
		list = append(list, p.Clone())
	}
	sortPipelines(list)
	return list
}

// GetPipeline returns a snapshot of one pipeline.
func (o *Orchestrator) GetPipeline(id string) (*models.Pipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// KillPipeline signals cancellation to the pipeline's worker. A pipeline
// without a worker that is not yet terminal is failed directly. Idempotent:
// killing a terminal pipeline is a no-op.
func (o *Orchestrator) KillPipeline(id string) error {
	o.mu.Lock()
	p, ok := o.pipelines[id]
	if !ok {
		o.mu.Unlock()
		return ErrNotFound
	}
	if p.Phase.Terminal() {
		o.mu.Unlock()
		return nil
	}
	cancel, isRunning := o.running[id]
	o.mu.Unlock()

	if isRunning {
		// The worker observes the cancellation and marks the pipeline failed.
		slog.Info("Kill requested", "pipeline_id", id)
		cancel()
		return nil
	}

	// No worker (e.g. loaded from disk in a stale state): fail directly.
	o.failPipeline(id, killReason)
	return nil
}

// DeletePipeline kills the pipeline, removes it from the registry and the
// store, and deletes its workspace best-effort.
func (o *Orchestrator) DeletePipeline(id string) error {
	if err := o.KillPipeline(id); err != nil {
		return err
	}

	o.mu.Lock()
	p := o.pipelines[id]
	delete(o.pipelines, id)
	delete(o.running, id)
	o.mu.Unlock()

	if err := o.persist(); err != nil {
		return err
	}

	if p != nil && p.Workspace != "" {
		if err := os.RemoveAll(p.Workspace); err != nil {
			slog.Warn("Failed to remove workspace", "pipeline_id", id, "error", err)
		}
	}
	slog.Info("Pipeline deleted", "pipeline_id", id)
	return nil
}

// ModifyPipeline applies user instructions to a terminal pipeline by
// restarting its worker on the modify-only path.
func (o *Orchestrator) ModifyPipeline(id, instructions string, attachments []models.Attachment) error {
	o.mu.Lock()
	p, ok := o.pipelines[id]
	if !ok {
		o.mu.Unlock()
		return ErrNotFound
	}
	if _, isRunning := o.running[id]; isRunning {
		o.mu.Unlock()
		return ErrRunning
	}
	if !p.Phase.Terminal() {
		o.mu.Unlock()
		return ErrNotTerminal
	}
	p.Artifacts["pendingModification"] = instructions
	p.Attachments = attachments
	p.UpdatedAt = time.Now()
	o.mu.Unlock()

	if err := o.persist(); err != nil {
		return err
	}

	slog.Info("Pipeline modification requested", "pipeline_id", id)
	o.startWorker(id, o.runModify)
	return nil
}

// Subscribe opens a live event feed. pipelineID may be empty for all
// pipelines. The caller must Unsubscribe when done.
func (o *Orchestrator) Subscribe(pipelineID string) *events.Subscription {
	return o.publisher.Subscribe(pipelineID)
}

// Unsubscribe closes a subscription opened with Subscribe.
func (o *Orchestrator) Unsubscribe(id string) {
	o.publisher.Unsubscribe(id)
}

// RunningCount returns the number of active workers.
func (o *Orchestrator) RunningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// startWorker launches fn as the pipeline's worker goroutine. A second
// start for the same pipeline while one is running is a no-op.
func (o *Orchestrator) startWorker(id string, fn func(ctx context.Context, id string)) {
	o.mu.Lock()
	if _, exists := o.running[id]; exists {
		o.mu.Unlock()
		slog.Warn("Worker already running, ignoring duplicate start", "pipeline_id", id)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.running[id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.running, id)
			o.mu.Unlock()
			cancel()
		}()
		fn(ctx, id)
	}()
}

// sortPipelines orders newest-created first.
func sortPipelines(list []*models.Pipeline) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
