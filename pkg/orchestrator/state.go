package orchestrator

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/appforge/appforge/pkg/agent"
	"github.com/appforge/appforge/pkg/events"
	"github.com/appforge/appforge/pkg/models"
)

// persist snapshots the registry under the lock and writes it atomically.
// Writes themselves serialize on saveMu so the registry lock is never held
// across disk I/O.
func (o *Orchestrator) persist() error {
	o.mu.Lock()
	snapshot := make(map[string]*models.Pipeline, len(o.pipelines))
	for id, p := range o.pipelines {
		snapshot[id] = p.Clone()
	}
	o.mu.Unlock()

	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	if err := o.store.Save(snapshot); err != nil {
		slog.Error("Failed to persist pipelines", "error", err)
		return err
	}
	return nil
}

// update runs fn on the pipeline under the registry lock. Returns false if
// the pipeline no longer exists (deleted mid-run).
func (o *Orchestrator) update(id string, fn func(p *models.Pipeline)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[id]
	if !ok {
		return false
	}
	fn(p)
	p.UpdatedAt = time.Now()
	return true
}

// emitEvent appends an event to the pipeline's ring and publishes it to
// live subscribers. Events alone are not persisted; the next state
// persistence carries them.
func (o *Orchestrator) emitEvent(id string, role agent.Role, action string, eventType models.EventType) {
	evt := models.PipelineEvent{
		ID:         uuid.New().String(),
		PipelineID: id,
		Timestamp:  time.Now(),
		AgentRole:  role.Name,
		AgentEmoji: role.Emoji,
		Action:     action,
		Type:       eventType,
	}
	if !o.update(id, func(p *models.Pipeline) {
		p.Events = events.Append(p.Events, evt)
	}) {
		return
	}
	o.publisher.Publish(evt)
}

// setPhase transitions the pipeline and raises progress to the phase
// floor. Invalid transitions are logged and applied anyway: the state
// machine callers are the single writer and a mismatch is a logic bug we
// want visible, not a crash.
func (o *Orchestrator) setPhase(id string, phase models.Phase) {
	o.update(id, func(p *models.Pipeline) {
		if !models.ValidTransition(p.Phase, phase) {
			slog.Error("Invalid phase transition", "pipeline_id", id,
				"from", p.Phase, "to", phase)
		}
		p.Phase = phase
		if floor := models.MinProgress(phase); floor > p.Progress {
			p.Progress = floor
		}
	})
	if err := o.persist(); err != nil {
		slog.Warn("Persist after phase transition failed", "pipeline_id", id, "error", err)
	}
}

// setProgress raises the pipeline progress. Progress never decreases
// within a run; lower values are ignored.
func (o *Orchestrator) setProgress(id string, progress int) {
	o.update(id, func(p *models.Pipeline) {
		if progress > p.Progress {
			p.Progress = progress
		}
	})
}

// setAgent updates one agent's status projection and persists.
func (o *Orchestrator) setAgent(id string, role agent.Role, status models.AgentStatus, action string) {
	now := time.Now()
	o.update(id, func(p *models.Pipeline) {
		view := p.Agent(role.Name)
		if view == nil {
			return
		}
		view.Status = status
		view.CurrentAction = action
		switch status {
		case models.AgentActive:
			if view.StartedAt == nil {
				view.StartedAt = &now
			}
		case models.AgentDone, models.AgentError:
			view.CompletedAt = &now
		}
	})
	if err := o.persist(); err != nil {
		slog.Warn("Persist after agent update failed", "pipeline_id", id, "error", err)
	}
}

// setArtifact stores a phase artifact and persists.
func (o *Orchestrator) setArtifact(id, key string, value any) {
	o.update(id, func(p *models.Pipeline) {
		p.Artifacts[key] = value
	})
	if err := o.persist(); err != nil {
		slog.Warn("Persist after artifact update failed", "pipeline_id", id, "error", err)
	}
}

// addUsage accumulates token usage into the pipeline.
func (o *Orchestrator) addUsage(id string, usage models.TokenUsage) {
	o.update(id, func(p *models.Pipeline) {
		p.TokenUsage.Add(usage)
	})
}

// failPipeline drives the pipeline to FAILED with the given reason, marks
// active agents as errored, and persists. No-op on terminal pipelines so
// repeated kills do not duplicate events.
func (o *Orchestrator) failPipeline(id, reason string) {
	already := false
	found := o.update(id, func(p *models.Pipeline) {
		if p.Phase.Terminal() {
			already = true
			return
		}
		p.Phase = models.PhaseFailed
		p.Error = reason
		for i := range p.Agents {
			if p.Agents[i].Status == models.AgentActive {
				p.Agents[i].Status = models.AgentError
			}
		}
	})
	if !found || already {
		return
	}
	o.emitEvent(id, roleSystem, "Pipeline failed: "+reason, models.EventError)
	if err := o.persist(); err != nil {
		slog.Warn("Persist after failure failed", "pipeline_id", id, "error", err)
	}
}

// snapshot returns a read-only copy of the pipeline for phase runners.
func (o *Orchestrator) snapshot(id string) (*models.Pipeline, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// sink builds the runner event sink for one pipeline: every agent action
// becomes a pipeline event, and usage is accumulated by the caller.
func (o *Orchestrator) sink(id string) agent.Sink {
	return func(role agent.Role, action string, eventType models.EventType) {
		o.emitEvent(id, role, action, eventType)
	}
}
