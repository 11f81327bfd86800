package orchestrator

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/appforge/appforge/pkg/agent"
	"github.com/appforge/appforge/pkg/deploy"
	"github.com/appforge/appforge/pkg/models"
	"github.com/appforge/appforge/pkg/tools"
)

// maxLogChars caps build logs embedded in the debugger prompt.
const maxLogChars = 4000

// runDevelopment implements the architecture features one by one, each in
// its own agent pass followed by a commit and, when deployed, a build
// watch. A failed feature degrades to a warning so later features still
// progress.
func (o *Orchestrator) runDevelopment(ctx context.Context, id string) error {
	p, ok := o.snapshot(id)
	if !ok {
		return ErrNotFound
	}

	features := featureList(p)
	if len(features) == 0 {
		o.emitEvent(id, agent.RoleDeveloper, "No features to implement", models.EventWarning)
		return nil
	}

	total := len(features)
	for i, feature := range features {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.setAgent(id, agent.RoleDeveloper, models.AgentActive,
			fmt.Sprintf("Feature %d/%d: %s", i+1, total, feature))
		o.setProgress(id, 40+int(math.Round(float64(i)/float64(total)*30)))

		p, _ = o.snapshot(id)
		result := o.runner.Run(ctx,
			o.runnerOptions(p, agent.RoleDeveloper, agent.DeveloperFeatureSystemPrompt,
				featurePrompt(p, feature), 12, nil),
			o.sink(id))
		o.addUsage(id, result.TokenUsage)
		if !result.Success {
			if cancelled(ctx, result.Err) {
				return result.Err
			}
			o.emitEvent(id, agent.RoleDeveloper,
				fmt.Sprintf("Feature %q failed: %v", feature, result.Err), models.EventWarning)
			continue
		}

		o.push(ctx, id, p, "feat: "+feature, models.EventWarning)

		if p.Deploy != nil {
			o.buildWatch(ctx, id)
		}
	}

	o.setAgent(id, agent.RoleDeveloper, models.AgentDone, "")
	o.setProgress(id, 70)
	o.emitEvent(id, agent.RoleDeveloper,
		fmt.Sprintf("Implemented %d features", total), models.EventSuccess)
	return nil
}

// buildWatch polls the latest deployment. A failed build triggers the
// debugger, a fix commit and a redeploy; polling errors are swallowed.
// Exhausting the attempt budget returns silently — the next feature's
// watch picks the deployment up again.
func (o *Orchestrator) buildWatch(ctx context.Context, id string) {
	p, ok := o.snapshot(id)
	if !ok || p.Deploy == nil || o.deploy == nil || !o.deploy.Enabled() {
		return
	}
	appID := p.Deploy.ApplicationID

	sleep(ctx, o.cfg.Watch.InitialDelay)

	for attempt := 0; attempt < o.cfg.Watch.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		deployment, err := o.deploy.LatestDeployment(ctx, appID)
		if err != nil {
			sleep(ctx, o.cfg.Watch.PollInterval)
			continue
		}

		switch deployment.Status {
		case deploy.StatusDone:
			o.emitEvent(id, roleSystem, "Deployment succeeded", models.EventDeploy)
			return

		case deploy.StatusError:
			logs, logErr := o.deploy.BuildLogs(ctx, appID)
			if logErr != nil {
				logs = deployment.Log
			}
			o.runDebugger(ctx, id, logs)

			if p, ok := o.snapshot(id); ok {
				o.push(ctx, id, p, "fix: build error correction", models.EventWarning)
			}
			if err := o.deploy.TriggerDeploy(ctx, appID); err != nil {
				o.emitEvent(id, roleSystem, "Redeploy trigger failed: "+err.Error(), models.EventWarning)
			}
			sleep(ctx, o.cfg.Watch.RedeployWait)

		default:
			sleep(ctx, o.cfg.Watch.PollInterval)
		}
	}
}

// runDebugger enters the debug loop: DEBUGGING phase, one bounded agent
// pass over the build logs, back to DEVELOPMENT. Never fails the pipeline.
func (o *Orchestrator) runDebugger(ctx context.Context, id string, logs string) {
	p, ok := o.snapshot(id)
	if !ok {
		return
	}

	o.setPhase(id, models.PhaseDebugging)
	o.setAgent(id, agent.RoleDebugger, models.AgentActive, "Fixing build error")
	o.emitEvent(id, agent.RoleDebugger, "Build failed, debugging", models.EventError)

	if len(logs) > maxLogChars {
		logs = logs[len(logs)-maxLogChars:]
	}
	prompt := fmt.Sprintf("The container build failed. Build logs:\n\n%s\n\nFind the cause and fix it.", logs)

	result := o.runner.Run(ctx,
		o.runnerOptions(p, agent.RoleDebugger, agent.DebuggerSystemPrompt, prompt, 5, nil),
		o.sink(id))
	o.addUsage(id, result.TokenUsage)
	if !result.Success {
		o.emitEvent(id, agent.RoleDebugger,
			fmt.Sprintf("Debugger pass failed: %v", result.Err), models.EventWarning)
		o.setAgent(id, agent.RoleDebugger, models.AgentError, "")
	} else {
		o.setAgent(id, agent.RoleDebugger, models.AgentDone, "")
		o.emitEvent(id, agent.RoleDebugger, "Fix applied", models.EventSuccess)
	}

	o.setPhase(id, models.PhaseDevelopment)
}

// runQA performs the read-only quality pass and commits any outstanding
// local changes. Agent failures degrade to a warning; only cancellation
// propagates.
func (o *Orchestrator) runQA(ctx context.Context, id string) error {
	p, ok := o.snapshot(id)
	if !ok {
		return ErrNotFound
	}

	o.setAgent(id, agent.RoleQA, models.AgentActive, "Reviewing the project")

	result := o.runner.Run(ctx,
		o.runnerOptions(p, agent.RoleQA, agent.QASystemPrompt,
			"Review the project in the working directory and produce your quality report.", 5,
			[]string{tools.ToolReadFile, tools.ToolListDir}),
		o.sink(id))
	o.addUsage(id, result.TokenUsage)
	if !result.Success {
		if cancelled(ctx, result.Err) {
			return result.Err
		}
		o.setAgent(id, agent.RoleQA, models.AgentError, "")
		o.emitEvent(id, agent.RoleQA,
			fmt.Sprintf("QA pass failed: %v", result.Err), models.EventWarning)
		return nil
	}

	o.push(ctx, id, p, "chore: QA fixes", models.EventWarning)

	summary := result.FinalResult
	if len(summary) > 200 {
		summary = summary[:200] + "..."
	}
	o.setAgent(id, agent.RoleQA, models.AgentDone, "")
	o.emitEvent(id, agent.RoleQA, "QA: "+summary, models.EventSuccess)
	return nil
}

// runModification applies the pending user instructions to the checkout,
// recloning it first if the workspace vanished across a restart.
func (o *Orchestrator) runModification(ctx context.Context, id string) error {
	p, ok := o.snapshot(id)
	if !ok {
		return ErrNotFound
	}

	instructions, _ := p.Artifacts["pendingModification"].(string)
	if instructions == "" {
		return fmt.Errorf("modify: no pending modification")
	}

	if _, err := os.Stat(p.Workspace); os.IsNotExist(err) {
		if err := os.MkdirAll(p.Workspace, 0o755); err != nil {
			return fmt.Errorf("recreate workspace: %w", err)
		}
		if p.GitHub != nil && o.repo != nil && o.repo.Enabled() {
			if err := o.repo.Clone(ctx, p.GitHub.Repo, p.Workspace); err != nil {
				return fmt.Errorf("reclone repository: %w", err)
			}
			if err := o.repo.SetIdentity(ctx, p.Workspace, "agent@appforge.dev", "AppForge"); err != nil {
				o.emitEvent(id, agent.RoleDeveloper,
					"Git identity setup failed: "+err.Error(), models.EventWarning)
			}
			o.emitEvent(id, agent.RoleDeveloper, "Recloned repository", models.EventInfo)
		}
	}

	o.setAgent(id, agent.RoleDeveloper, models.AgentActive, "Applying modification")
	o.emitEvent(id, agent.RoleDeveloper, "Modification: "+clipText(instructions, 100), models.EventInfo)

	opts := o.runnerOptions(p, agent.RoleDeveloper, agent.ModifySystemPrompt,
		"Change request:\n"+instructions, 15, nil)
	opts.Attachments = p.Attachments

	result := o.runner.Run(ctx, opts, o.sink(id))
	o.addUsage(id, result.TokenUsage)
	if !result.Success {
		o.setAgent(id, agent.RoleDeveloper, models.AgentError, "")
		return fmt.Errorf("modification agent: %w", result.Err)
	}

	o.update(id, func(p *models.Pipeline) {
		p.Attachments = nil
	})
	o.push(ctx, id, p, "mod: "+clipText(instructions, 50), models.EventWarning)

	if p.Deploy != nil {
		o.buildWatch(ctx, id)
	}

	o.setAgent(id, agent.RoleDeveloper, models.AgentDone, "")
	return nil
}

// featureList extracts the ordered feature strings from the architecture
// artifact, falling back to the analysis features.
func featureList(p *models.Pipeline) []string {
	for _, key := range []string{"architecture", "analysis"} {
		artifact, _ := p.Artifacts[key].(map[string]any)
		if artifact == nil {
			continue
		}
		raw, _ := artifact["features"].([]any)
		var features []string
		for _, f := range raw {
			if s, ok := f.(string); ok && s != "" {
				features = append(features, s)
			}
		}
		if len(features) > 0 {
			return features
		}
	}
	return nil
}

// featurePrompt builds the per-feature developer prompt.
func featurePrompt(p *models.Pipeline, feature string) string {
	return fmt.Sprintf("Project: %s\n\nImplement this feature, end to end:\n%s", p.Description, feature)
}

func clipText(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
