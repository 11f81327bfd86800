package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/pkg/config"
	"github.com/appforge/appforge/pkg/events"
	"github.com/appforge/appforge/pkg/models"
	"github.com/appforge/appforge/pkg/skills"
	"github.com/appforge/appforge/pkg/store"
)

const (
	staticAnalysisJSON = `{"name":"cafeteria-landing","summary":"Site vitrine pour un restaurant","type":"static","features":["Menu","Contact"],"stack":{"frontend":"html"}}`

	oneFeatureArchitectureJSON = `{"stack":{"frontend":"html"},"fileStructure":["index.html"],"endpoints":[],"features":["Section menu"]}`

	twoFeatureArchitectureJSON = `{"stack":{"frontend":"html"},"fileStructure":["index.html"],"endpoints":[],"features":["Section menu","Formulaire de contact"]}`
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		WorkspaceRoot: t.TempDir(),
		StorePath:     filepath.Join(t.TempDir(), "pipelines.json"),
		LLMModels:     []string{"test-model"},
		Runner: config.RunnerConfig{
			MaxTurns:    10,
			Timeout:     time.Minute,
			BashTimeout: 5 * time.Second,
			MaxTokens:   512,
		},
		Watch: config.WatchConfig{
			InitialDelay: time.Millisecond,
			PollInterval: time.Millisecond,
			MaxAttempts:  3,
			RedeployWait: time.Millisecond,
		},
	}
}

func newTestOrchestrator(t *testing.T, llmClient *scriptedLLM, repo RepoClient, dep DeployClient) *Orchestrator {
	t.Helper()
	cfg := testConfig(t)
	o := New(cfg, store.New(cfg.StorePath), events.NewPublisher(), llmClient, repo, dep,
		&stubSkills{results: []skills.Skill{{Title: "HTML basics", Href: "https://skills.test/html"}}})
	t.Cleanup(o.Stop)
	return o
}

func waitForPhase(t *testing.T, o *Orchestrator, id string, phase models.Phase) *models.Pipeline {
	t.Helper()
	var last *models.Pipeline
	require.Eventually(t, func() bool {
		p, err := o.GetPipeline(id)
		if err != nil {
			return false
		}
		last = p
		return p.Phase == phase
	}, 10*time.Second, 5*time.Millisecond, "pipeline never reached %s (last: %+v)", phase, last)
	return last
}

func waitForIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool { return o.RunningCount() == 0 },
		10*time.Second, 5*time.Millisecond)
}

func TestStaticHappyPath(t *testing.T) {
	llmClient := &scriptedLLM{}
	llmClient.add(
		scriptEntry{text: staticAnalysisJSON},        // Analyst
		scriptEntry{text: twoFeatureArchitectureJSON}, // Architect
		scriptEntry{text: "Scaffold created"},         // Developer (scaffold)
		scriptEntry{text: "Menu section done"},        // Developer (feature 1)
		scriptEntry{text: "Contact form done"},        // Developer (feature 2)
		scriptEntry{text: "Score: 9/10, ready"},       // QA
	)
	repo := &stubRepo{}
	dep := &stubDeploy{}
	o := newTestOrchestrator(t, llmClient, repo, dep)

	p, err := o.LaunchIdea("Landing page pour une cafétéria", "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseQueued, p.Phase)

	final := waitForPhase(t, o, p.ID, models.PhaseCompleted)
	waitForIdle(t, o)

	assert.Equal(t, models.TypeStatic, final.ProjectType)
	assert.Equal(t, 100, final.Progress)
	assert.Empty(t, final.Error)

	// Remote repo and deployment were provisioned; the domain uses the
	// static port.
	require.NotNil(t, final.GitHub)
	assert.Equal(t, "acme", final.GitHub.Owner)
	require.NotNil(t, final.Deploy)
	assert.Equal(t, "app-1", final.Deploy.ApplicationID)
	require.Len(t, dep.domains, 1)
	assert.Equal(t, 80, dep.domains[0].port)
	assert.Contains(t, dep.domains[0].host, final.Name)
	assert.Equal(t, 1, dep.triggerCount())

	// One commit per step.
	pushes := repo.pushMessages()
	assert.Contains(t, pushes, "feat: initial scaffold by appforge")
	assert.Contains(t, pushes, "feat: Section menu")
	assert.Contains(t, pushes, "feat: Formulaire de contact")
	assert.Contains(t, pushes, "chore: QA fixes")

	// Token usage accumulated over all six agent calls.
	assert.Equal(t, models.TokenUsage{InputTokens: 60, OutputTokens: 30}, final.TokenUsage)

	// Artifacts captured per phase.
	assert.NotNil(t, final.Artifacts["analysis"])
	assert.NotNil(t, final.Artifacts["architecture"])
	assert.NotNil(t, final.Artifacts["skills"])

	// The store on disk reflects the terminal state.
	loaded, err := store.New(o.cfg.StorePath).Load()
	require.NoError(t, err)
	require.NotNil(t, loaded[p.ID])
	assert.Equal(t, models.PhaseCompleted, loaded[p.ID].Phase)
	assert.Equal(t, 100, loaded[p.ID].Progress)

	// Event ring stays bounded.
	assert.LessOrEqual(t, len(final.Events), events.MaxEventsPerPipeline)
}

func TestBuildFailureRecovery(t *testing.T) {
	llmClient := &scriptedLLM{}
	llmClient.add(
		scriptEntry{text: staticAnalysisJSON},
		scriptEntry{text: oneFeatureArchitectureJSON},
		scriptEntry{text: "Scaffold created"},
		scriptEntry{text: "Feature done"},
		scriptEntry{text: "Fixed the Dockerfile"}, // Debugger
		scriptEntry{text: "Score: 8/10"},          // QA
	)
	repo := &stubRepo{}
	dep := &stubDeploy{
		statuses: []string{"error", "done"},
		logs:     "npm ERR! missing script: build",
	}
	o := newTestOrchestrator(t, llmClient, repo, dep)

	p, err := o.LaunchIdea("Landing page pour une cafétéria", "", nil)
	require.NoError(t, err)

	final := waitForPhase(t, o, p.ID, models.PhaseCompleted)
	waitForIdle(t, o)

	// One debugger activation, one fix commit, one redeploy on top of the
	// initial trigger.
	assert.Contains(t, repo.pushMessages(), "fix: build error correction")
	assert.Equal(t, 2, dep.triggerCount())
	debugger := final.Agent("Debugger")
	require.NotNil(t, debugger)
	assert.Equal(t, models.AgentDone, debugger.Status)
}

func TestCancelMidAnalysis(t *testing.T) {
	analysisStarted := make(chan struct{})
	llmClient := &scriptedLLM{}
	llmClient.add(scriptEntry{blockUntilCancelled: true, onBlock: analysisStarted})
	o := newTestOrchestrator(t, llmClient, nil, nil)

	p, err := o.LaunchIdea("Une idée quelconque", "", nil)
	require.NoError(t, err)

	select {
	case <-analysisStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis never started")
	}

	require.NoError(t, o.KillPipeline(p.ID))
	waitForPhase(t, o, p.ID, models.PhaseFailed)
	waitForIdle(t, o)

	final, err := o.GetPipeline(p.ID)
	require.NoError(t, err)
	assert.Contains(t, final.Error, "arrêté manuellement")
	assert.Equal(t, 1, llmClient.callCount(), "the in-flight request was the only one")

	// Kill is idempotent: same terminal state, no duplicate events.
	eventsBefore := len(final.Events)
	require.NoError(t, o.KillPipeline(p.ID))
	again, err := o.GetPipeline(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, again.Phase)
	assert.Len(t, again.Events, eventsBefore)
}

func TestModifyAfterCompletion(t *testing.T) {
	llmClient := &scriptedLLM{}
	llmClient.add(
		scriptEntry{text: staticAnalysisJSON},
		scriptEntry{text: oneFeatureArchitectureJSON},
		scriptEntry{text: "Scaffold created"},
		scriptEntry{text: "Feature done"},
		scriptEntry{text: "Score: 9/10"},
	)
	repo := &stubRepo{}
	dep := &stubDeploy{}
	o := newTestOrchestrator(t, llmClient, repo, dep)

	p, err := o.LaunchIdea("Landing page pour une cafétéria", "", nil)
	require.NoError(t, err)
	waitForPhase(t, o, p.ID, models.PhaseCompleted)
	waitForIdle(t, o)

	llmClient.add(
		scriptEntry{text: "Title changed"}, // Developer (modify)
		scriptEntry{text: "Score: 9/10"},   // QA
	)
	instructions := "Change le titre en 'Cafétéria Luna'"
	require.NoError(t, o.ModifyPipeline(p.ID, instructions, nil))

	final := waitForPhase(t, o, p.ID, models.PhaseCompleted)
	waitForIdle(t, o)

	var modPush string
	for _, msg := range repo.pushMessages() {
		if len(msg) > 5 && msg[:5] == "mod: " {
			modPush = msg
		}
	}
	require.NotEmpty(t, modPush, "a mod: commit was pushed")
	assert.Contains(t, modPush, "Change le titre")

	assert.Nil(t, final.Artifacts["pendingModification"], "cleared on success")
	assert.Equal(t, 100, final.Progress)
}

func TestModifyPreconditions(t *testing.T) {
	t.Run("unknown pipeline", func(t *testing.T) {
		o := newTestOrchestrator(t, &scriptedLLM{}, nil, nil)
		assert.ErrorIs(t, o.ModifyPipeline("nope", "x", nil), ErrNotFound)
	})

	t.Run("running pipeline", func(t *testing.T) {
		started := make(chan struct{})
		llmClient := &scriptedLLM{}
		llmClient.add(scriptEntry{blockUntilCancelled: true, onBlock: started})
		o := newTestOrchestrator(t, llmClient, nil, nil)

		p, err := o.LaunchIdea("idée", "", nil)
		require.NoError(t, err)
		<-started

		assert.ErrorIs(t, o.ModifyPipeline(p.ID, "x", nil), ErrRunning)
		require.NoError(t, o.KillPipeline(p.ID))
		waitForIdle(t, o)
	})
}

func TestRestartRecovery(t *testing.T) {
	cfg := testConfig(t)
	st := store.New(cfg.StorePath)

	require.NoError(t, st.Save(map[string]*models.Pipeline{
		"a1": {ID: "a1", Phase: models.PhaseAnalysis, Artifacts: map[string]any{}},
		"b2": {ID: "b2", Phase: models.PhaseDevelopment, Artifacts: map[string]any{}},
		"c3": {ID: "c3", Phase: models.PhaseCompleted, Progress: 100, Artifacts: map[string]any{}},
	}))

	o := New(cfg, st, events.NewPublisher(), &scriptedLLM{}, nil, nil, nil)
	require.NoError(t, o.LoadFromStore())

	list := o.ListPipelines()
	require.Len(t, list, 3)

	a1, err := o.GetPipeline("a1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, a1.Phase)
	assert.Equal(t, "interrupted", a1.Error)

	b2, _ := o.GetPipeline("b2")
	assert.Equal(t, models.PhaseFailed, b2.Phase)

	c3, _ := o.GetPipeline("c3")
	assert.Equal(t, models.PhaseCompleted, c3.Phase)
	assert.Empty(t, c3.Error)

	// The interrupted marking is persisted.
	loaded, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, loaded["a1"].Phase)
}

func TestLaunchTwiceIsDistinct(t *testing.T) {
	llmClient := &scriptedLLM{}
	o := newTestOrchestrator(t, llmClient, nil, nil)

	p1, err := o.LaunchIdea("same idea", "", nil)
	require.NoError(t, err)
	p2, err := o.LaunchIdea("same idea", "", nil)
	require.NoError(t, err)

	assert.NotEqual(t, p1.ID, p2.ID)
	assert.NotEqual(t, p1.Workspace, p2.Workspace)
	assert.DirExists(t, p1.Workspace)
	assert.DirExists(t, p2.Workspace)

	waitForPhase(t, o, p1.ID, models.PhaseCompleted)
	waitForPhase(t, o, p2.ID, models.PhaseCompleted)
}

func TestDeletePipeline(t *testing.T) {
	llmClient := &scriptedLLM{}
	llmClient.add(scriptEntry{text: staticAnalysisJSON})
	o := newTestOrchestrator(t, llmClient, nil, nil)

	p, err := o.LaunchIdea("idée", "", nil)
	require.NoError(t, err)
	waitForPhase(t, o, p.ID, models.PhaseCompleted)
	waitForIdle(t, o)

	require.NoError(t, o.DeletePipeline(p.ID))

	_, err = o.GetPipeline(p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, statErr := os.Stat(p.Workspace)
	assert.True(t, os.IsNotExist(statErr), "workspace removed")

	loaded, err := store.New(o.cfg.StorePath).Load()
	require.NoError(t, err)
	assert.NotContains(t, loaded, p.ID)

	assert.ErrorIs(t, o.DeletePipeline(p.ID), ErrNotFound)
}

func TestProgressNeverDecreases(t *testing.T) {
	llmClient := &scriptedLLM{}
	llmClient.add(
		scriptEntry{text: staticAnalysisJSON},
		scriptEntry{text: twoFeatureArchitectureJSON},
	)
	o := newTestOrchestrator(t, llmClient, &stubRepo{}, &stubDeploy{})

	p, err := o.LaunchIdea("Landing page pour une cafétéria", "", nil)
	require.NoError(t, err)

	last := -1
	decreased := false
	require.Eventually(t, func() bool {
		snap, err := o.GetPipeline(p.ID)
		if err != nil {
			return false
		}
		if snap.Progress < last {
			decreased = true
		}
		last = snap.Progress
		return snap.Phase.Terminal()
	}, 10*time.Second, time.Millisecond)

	assert.False(t, decreased, "progress decreased during the run")
	assert.Equal(t, 100, last)
}

func TestRepoFailureDegradesToLocalOnly(t *testing.T) {
	llmClient := &scriptedLLM{}
	llmClient.add(
		scriptEntry{text: staticAnalysisJSON},
		scriptEntry{text: oneFeatureArchitectureJSON},
	)
	repo := &stubRepo{failCreate: true}
	dep := &stubDeploy{}
	o := newTestOrchestrator(t, llmClient, repo, dep)

	p, err := o.LaunchIdea("Landing page pour une cafétéria", "", nil)
	require.NoError(t, err)

	final := waitForPhase(t, o, p.ID, models.PhaseCompleted)
	waitForIdle(t, o)

	assert.Nil(t, final.GitHub, "no remote repo recorded")
	assert.Nil(t, final.Deploy, "deployment skipped without a repo")
	assert.Empty(t, repo.pushMessages(), "no pushes without a remote")
}

func TestEventSubscription(t *testing.T) {
	llmClient := &scriptedLLM{}
	llmClient.add(scriptEntry{text: staticAnalysisJSON})
	o := newTestOrchestrator(t, llmClient, nil, nil)

	sub := o.Subscribe("")
	defer o.Unsubscribe(sub.ID)

	p, err := o.LaunchIdea("idée", "", nil)
	require.NoError(t, err)
	waitForPhase(t, o, p.ID, models.PhaseCompleted)

	select {
	case evt := <-sub.C:
		assert.Equal(t, p.ID, evt.PipelineID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}
