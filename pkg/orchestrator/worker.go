package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/appforge/appforge/pkg/agent"
	"github.com/appforge/appforge/pkg/llm"
	"github.com/appforge/appforge/pkg/models"
)

// roleSystem labels orchestrator-level events that no agent produced.
var roleSystem = agent.Role{Name: "System", Emoji: "⚙️"}

// runPipeline is the worker body: it drives the pipeline through the
// nominal phase sequence. Phase runner errors fail the pipeline; observed
// cancellation fails it with the manual-stop reason.
func (o *Orchestrator) runPipeline(ctx context.Context, id string) {
	log := slog.With("pipeline_id", id)
	log.Info("Worker started")

	steps := []struct {
		phase models.Phase
		run   func(ctx context.Context, id string) error
	}{
		{models.PhaseAnalysis, o.runAnalysis},
		{models.PhaseArchitecture, o.runArchitecture},
		{models.PhaseScaffold, o.runScaffold},
		{models.PhaseDevelopment, o.runDevelopment},
		{models.PhaseQA, o.runQA},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			o.failPipeline(id, killReason)
			log.Info("Worker cancelled")
			return
		}
		o.setPhase(id, step.phase)
		if err := step.run(ctx, id); err != nil {
			if cancelled(ctx, err) {
				o.failPipeline(id, killReason)
				log.Info("Worker cancelled")
				return
			}
			o.failPipeline(id, err.Error())
			log.Error("Phase failed", "phase", step.phase, "error", err)
			return
		}
	}

	o.setPhase(id, models.PhaseCompleted)
	o.emitEvent(id, roleSystem, "Pipeline completed", models.EventSuccess)
	log.Info("Worker finished")
}

// runModify is the worker body for the modify-only path (§modify).
func (o *Orchestrator) runModify(ctx context.Context, id string) {
	log := slog.With("pipeline_id", id)
	log.Info("Modify worker started")

	o.update(id, func(p *models.Pipeline) {
		// Modify restarts the run: progress may reset to the phase floor.
		p.Progress = 0
		p.Error = ""
	})
	o.setPhase(id, models.PhaseDevelopment)

	if err := o.runModification(ctx, id); err != nil {
		if cancelled(ctx, err) {
			o.failPipeline(id, killReason)
			return
		}
		o.failPipeline(id, err.Error())
		log.Error("Modification failed", "error", err)
		return
	}

	o.update(id, func(p *models.Pipeline) {
		delete(p.Artifacts, "pendingModification")
	})
	o.setPhase(id, models.PhaseQA)
	if err := o.runQA(ctx, id); err != nil {
		if cancelled(ctx, err) {
			o.failPipeline(id, killReason)
			return
		}
		// A failed QA pass does not undo an applied modification.
		o.emitEvent(id, agent.RoleQA, "QA pass failed: "+err.Error(), models.EventWarning)
	}

	o.setPhase(id, models.PhaseCompleted)
	o.emitEvent(id, roleSystem, "Modification completed", models.EventSuccess)
	log.Info("Modify worker finished")
}

// cancelled reports whether err (or the worker context) reflects a
// cancellation rather than a genuine failure.
func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return llm.KindOf(err) == llm.KindCancelled
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
