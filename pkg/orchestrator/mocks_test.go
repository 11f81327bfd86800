package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/appforge/appforge/pkg/deploy"
	"github.com/appforge/appforge/pkg/gitrepo"
	"github.com/appforge/appforge/pkg/llm"
	"github.com/appforge/appforge/pkg/skills"
)

// scriptEntry is one scripted LLM reply.
type scriptEntry struct {
	text                string
	err                 error
	blockUntilCancelled bool
	onBlock             chan struct{} // closed when the blocking entry is reached
}

// scriptedLLM implements llm.Client with sequential scripted replies.
// Once the script is exhausted it returns a default {"ok": true} reply, so trailing
// passes (QA, modify) don't need explicit entries in every test.
type scriptedLLM struct {
	mu      sync.Mutex
	entries []scriptEntry
	idx     int
	calls   int
}

func (s *scriptedLLM) add(entries ...scriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedLLM) CreateMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	// The default reply parses as JSON so phases that extract an
	// artifact from an unscripted call still succeed.
	entry := scriptEntry{text: `{"ok": true}`}
	if s.idx < len(s.entries) {
		entry = s.entries[s.idx]
		s.idx++
	}
	s.calls++
	s.mu.Unlock()

	if entry.blockUntilCancelled {
		if entry.onBlock != nil {
			close(entry.onBlock)
		}
		<-ctx.Done()
		return nil, &llm.Error{Kind: llm.KindCancelled, Provider: "anthropic", Cause: ctx.Err()}
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return &llm.Response{
		StopReason: llm.StopEndTurn,
		Content:    []llm.ContentBlock{llm.TextBlock(entry.text)},
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (s *scriptedLLM) OneShot(ctx context.Context, system, user string) (string, llm.Usage, error) {
	resp, err := s.CreateMessage(ctx, &llm.Request{System: system,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.TextBlock(user)}}}})
	if err != nil {
		return "", llm.Usage{}, err
	}
	return resp.Text(), resp.Usage, nil
}

// stubRepo records repository operations without touching git or the
// network.
type stubRepo struct {
	mu         sync.Mutex
	created    []string
	pushes     []string
	failCreate bool
}

func (r *stubRepo) Enabled() bool { return true }
func (r *stubRepo) Owner() string { return "acme" }

func (r *stubRepo) CreateRepo(_ context.Context, name, description string, _ bool) (*gitrepo.Repo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return nil, fmt.Errorf("create repo %s: HTTP 500", name)
	}
	r.created = append(r.created, name)
	return &gitrepo.Repo{
		Owner: "acme", Name: name,
		URL: "https://github.com/acme/" + name,
	}, nil
}

func (r *stubRepo) Clone(_ context.Context, _, _ string) error          { return nil }
func (r *stubRepo) SetIdentity(_ context.Context, _, _, _ string) error { return nil }

func (r *stubRepo) PushAll(_ context.Context, _, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, message)
	return nil
}

func (r *stubRepo) pushMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.pushes...)
}

// stubDeploy records provisioning calls and serves a scripted sequence of
// deployment statuses (the last entry repeats).
type stubDeploy struct {
	mu        sync.Mutex
	projects  int
	apps      int
	domains   []domainCall
	triggers  int
	statuses  []string
	statusIdx int
	logs      string
}

type domainCall struct {
	host string
	port int
}

func (d *stubDeploy) Enabled() bool      { return true }
func (d *stubDeploy) BaseDomain() string { return "apps.test" }

func (d *stubDeploy) CreateProject(_ context.Context, _, _ string) (*deploy.Project, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projects++
	return &deploy.Project{ProjectID: "proj-1", EnvironmentID: "env-1"}, nil
}

func (d *stubDeploy) CreateApplication(_ context.Context, _ deploy.ApplicationSpec) (*deploy.Application, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apps++
	return &deploy.Application{ApplicationID: "app-1", AppName: "demo"}, nil
}

func (d *stubDeploy) CreateDomain(_ context.Context, _ string, host string, port int) (*deploy.Domain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.domains = append(d.domains, domainCall{host: host, port: port})
	return &deploy.Domain{DomainID: "dom-1", Host: host}, nil
}

func (d *stubDeploy) TriggerDeploy(_ context.Context, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggers++
	return nil
}

func (d *stubDeploy) LatestDeployment(_ context.Context, _ string) (*deploy.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := deploy.StatusDone
	if len(d.statuses) > 0 {
		i := d.statusIdx
		if i >= len(d.statuses) {
			i = len(d.statuses) - 1
		}
		status = d.statuses[i]
		d.statusIdx++
	}
	return &deploy.Deployment{Status: status, Log: d.logs}, nil
}

func (d *stubDeploy) BuildLogs(_ context.Context, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logs, nil
}

func (d *stubDeploy) triggerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers
}

// stubSkills returns a fixed skill list.
type stubSkills struct {
	results []skills.Skill
}

func (s *stubSkills) FindForContext(_ context.Context, _ []string, limit int) []skills.Skill {
	if len(s.results) > limit {
		return s.results[:limit]
	}
	return s.results
}
