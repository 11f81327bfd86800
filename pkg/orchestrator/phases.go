package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/appforge/appforge/pkg/agent"
	"github.com/appforge/appforge/pkg/deploy"
	"github.com/appforge/appforge/pkg/llm"
	"github.com/appforge/appforge/pkg/models"
	"github.com/appforge/appforge/pkg/project"
	"github.com/appforge/appforge/pkg/tools"
)

// runnerOptions builds the common runner options for a role.
func (o *Orchestrator) runnerOptions(p *models.Pipeline, role agent.Role, system, prompt string, maxTurns int, allowedTools []string) agent.Options {
	return agent.Options{
		Role:         role,
		System:       system,
		Prompt:       prompt,
		Workspace:    p.Workspace,
		MaxTurns:     maxTurns,
		Timeout:      o.cfg.Runner.Timeout,
		BashTimeout:  o.cfg.Runner.BashTimeout,
		AllowedTools: allowedTools,
		MaxTokens:    o.cfg.Runner.MaxTokens,
	}
}

// noTools restricts a runner invocation to plain text generation.
var noTools = []string{}

// runAnalysis turns the raw idea into the analysis artifact and classifies
// the project type. LLM and parse failures are fatal for the pipeline.
func (o *Orchestrator) runAnalysis(ctx context.Context, id string) error {
	p, ok := o.snapshot(id)
	if !ok {
		return ErrNotFound
	}

	o.setAgent(id, agent.RoleAnalyst, models.AgentActive, "Analyzing the idea")
	o.emitEvent(id, agent.RoleAnalyst, "Analyzing project idea", models.EventInfo)

	prompt := fmt.Sprintf("Project idea:\n%s\n\nAnalyze this idea and respond with the JSON object described in your instructions.", p.Description)
	opts := o.runnerOptions(p, agent.RoleAnalyst, agent.AnalystSystemPrompt, prompt, 3, noTools)
	opts.Attachments = p.Attachments

	result := o.runner.Run(ctx, opts, o.sink(id))
	o.addUsage(id, result.TokenUsage)
	if !result.Success {
		o.setAgent(id, agent.RoleAnalyst, models.AgentError, "")
		return fmt.Errorf("analysis agent: %w", result.Err)
	}

	analysis, err := llm.ExtractJSON(result.FinalResult)
	if err != nil {
		o.setAgent(id, agent.RoleAnalyst, models.AgentError, "")
		o.emitEvent(id, agent.RoleAnalyst, "Could not parse analysis", models.EventError)
		return fmt.Errorf("parse analysis: %w", err)
	}

	projectType := project.Classify(analysis)
	o.setArtifact(id, "analysis", analysis)
	o.update(id, func(p *models.Pipeline) {
		p.ProjectType = projectType
		p.Attachments = nil
	})

	o.setAgent(id, agent.RoleAnalyst, models.AgentDone, "")
	o.emitEvent(id, agent.RoleAnalyst,
		fmt.Sprintf("Analysis complete — project type %s", projectType), models.EventSuccess)
	return nil
}

// runArchitecture looks up relevant skills, then produces the architecture
// artifact. Skills failures are non-fatal; LLM/parse failures are fatal.
func (o *Orchestrator) runArchitecture(ctx context.Context, id string) error {
	p, ok := o.snapshot(id)
	if !ok {
		return ErrNotFound
	}
	analysis, _ := p.Artifacts["analysis"].(map[string]any)
	if analysis == nil {
		return fmt.Errorf("architecture: missing analysis artifact")
	}

	o.setAgent(id, agent.RoleArchitect, models.AgentActive, "Designing the architecture")

	var skillRefs []map[string]string
	if o.skills != nil {
		keywords := buildKeywords(analysis, p.Description)
		for _, skill := range o.skills.FindForContext(ctx, keywords, 3) {
			skillRefs = append(skillRefs, map[string]string{"title": skill.Title, "href": skill.Href})
		}
	}
	o.setArtifact(id, "skills", skillRefs)

	template := project.TemplateFor(p.ProjectType)
	prompt := architecturePrompt(analysis, template, skillRefs)

	result := o.runner.Run(ctx,
		o.runnerOptions(p, agent.RoleArchitect, agent.ArchitectSystemPrompt, prompt, 3, noTools),
		o.sink(id))
	o.addUsage(id, result.TokenUsage)
	if !result.Success {
		o.setAgent(id, agent.RoleArchitect, models.AgentError, "")
		return fmt.Errorf("architecture agent: %w", result.Err)
	}

	architecture, err := llm.ExtractJSON(result.FinalResult)
	if err != nil {
		o.setAgent(id, agent.RoleArchitect, models.AgentError, "")
		o.emitEvent(id, agent.RoleArchitect, "Could not parse architecture", models.EventError)
		return fmt.Errorf("parse architecture: %w", err)
	}

	o.setArtifact(id, "architecture", architecture)
	o.setAgent(id, agent.RoleArchitect, models.AgentDone, "")
	o.emitEvent(id, agent.RoleArchitect, "Architecture ready", models.EventSuccess)
	return nil
}

// runScaffold creates the remote repository, bootstraps the project
// skeleton and provisions the deployment. Remote-side failures degrade to
// local-only mode; only the scaffold agent itself is fatal.
func (o *Orchestrator) runScaffold(ctx context.Context, id string) error {
	p, ok := o.snapshot(id)
	if !ok {
		return ErrNotFound
	}

	o.setAgent(id, agent.RoleDeveloper, models.AgentActive, "Scaffolding the project")

	if o.repo != nil && o.repo.Enabled() && p.GitHub == nil {
		o.createRemoteRepo(ctx, id, p)
		p, _ = o.snapshot(id)
	}

	template := project.TemplateFor(p.ProjectType)
	prompt := scaffoldPrompt(p, template)

	result := o.runner.Run(ctx,
		o.runnerOptions(p, agent.RoleDeveloper, agent.DeveloperScaffoldSystemPrompt, prompt, 12,
			[]string{tools.ToolWriteFile, tools.ToolBash}),
		o.sink(id))
	o.addUsage(id, result.TokenUsage)
	if !result.Success {
		o.setAgent(id, agent.RoleDeveloper, models.AgentError, "")
		return fmt.Errorf("scaffold agent: %w", result.Err)
	}

	o.push(ctx, id, p, "feat: initial scaffold by appforge", models.EventError)
	o.emitEvent(id, agent.RoleDeveloper, "Project scaffold ready", models.EventSuccess)

	o.provisionDeploy(ctx, id)
	return nil
}

// createRemoteRepo creates the repository, records it on the pipeline and
// prepares the local clone. Any failure emits a warning and leaves the
// pipeline in local-only mode.
func (o *Orchestrator) createRemoteRepo(ctx context.Context, id string, p *models.Pipeline) {
	repoName := fmt.Sprintf("%s-%s", p.Name, p.ID)
	repo, err := o.repo.CreateRepo(ctx, repoName, p.Description, false)
	if err != nil {
		o.emitEvent(id, agent.RoleDeveloper,
			"Repository creation failed, continuing locally: "+err.Error(), models.EventWarning)
		return
	}

	if err := o.repo.Clone(ctx, repo.Name, p.Workspace); err != nil {
		o.emitEvent(id, agent.RoleDeveloper,
			"Clone failed, continuing locally: "+err.Error(), models.EventWarning)
		return
	}
	if err := o.repo.SetIdentity(ctx, p.Workspace, "agent@appforge.dev", "AppForge"); err != nil {
		o.emitEvent(id, agent.RoleDeveloper,
			"Git identity setup failed: "+err.Error(), models.EventWarning)
	}

	o.update(id, func(p *models.Pipeline) {
		p.GitHub = &models.GitHubInfo{Owner: repo.Owner, Repo: repo.Name, URL: repo.URL}
	})
	if err := o.persist(); err == nil {
		o.emitEvent(id, agent.RoleDeveloper, "Repository created: "+repo.URL, models.EventSuccess)
	}
}

// provisionDeploy creates the deployment project, application and domain.
// Every failure is an event, never an error: deployment is best-effort.
func (o *Orchestrator) provisionDeploy(ctx context.Context, id string) {
	p, ok := o.snapshot(id)
	if !ok || p.GitHub == nil || o.deploy == nil || !o.deploy.Enabled() || p.Deploy != nil {
		return
	}

	o.setPhase(id, models.PhaseDeploying)
	o.emitEvent(id, roleSystem, "Provisioning deployment", models.EventDeploy)

	proj, err := o.deploy.CreateProject(ctx, p.Name, p.Description)
	if err != nil {
		o.emitEvent(id, roleSystem, "Deployment project creation failed: "+err.Error(), models.EventError)
		return
	}

	app, err := o.deploy.CreateApplication(ctx, deploy.ApplicationSpec{
		Name:          p.Name,
		ProjectID:     proj.ProjectID,
		EnvironmentID: proj.EnvironmentID,
		Owner:         p.GitHub.Owner,
		Repo:          p.GitHub.Repo,
		Branch:        "main",
		BuildType:     "dockerfile",
	})
	if err != nil {
		o.emitEvent(id, roleSystem, "Application creation failed: "+err.Error(), models.EventError)
		return
	}

	info := &models.DeployInfo{ProjectID: proj.ProjectID, ApplicationID: app.ApplicationID}

	host := fmt.Sprintf("%s-%s.%s", p.Name, p.ID, o.deploy.BaseDomain())
	if _, err := o.deploy.CreateDomain(ctx, app.ApplicationID, host, project.Port(p.ProjectType)); err != nil {
		o.emitEvent(id, roleSystem, "Domain creation failed: "+err.Error(), models.EventError)
	} else {
		info.URL = "https://" + host
	}

	if err := o.deploy.TriggerDeploy(ctx, app.ApplicationID); err != nil {
		o.emitEvent(id, roleSystem, "Initial deploy trigger failed: "+err.Error(), models.EventWarning)
	}

	o.update(id, func(p *models.Pipeline) {
		p.Deploy = info
	})
	if err := o.persist(); err == nil {
		o.emitEvent(id, roleSystem, "Deployment provisioned: "+info.URL, models.EventDeploy)
	}
}

// push commits and pushes the workspace if a remote repository exists.
// Failures emit an event of the given severity and never propagate.
func (o *Orchestrator) push(ctx context.Context, id string, p *models.Pipeline, message string, severity models.EventType) {
	if p.GitHub == nil || o.repo == nil || !o.repo.Enabled() {
		return
	}
	if err := o.repo.PushAll(ctx, p.Workspace, message); err != nil {
		o.emitEvent(id, agent.RoleDeveloper, "Push failed: "+err.Error(), severity)
		return
	}
	o.emitEvent(id, agent.RoleDeveloper, "Pushed: "+message, models.EventInfo)
	// A push is an external side effect: persist the state that produced it.
	_ = o.persist()
}

// buildKeywords derives up to five skills-lookup keywords from the
// analysis stack values, the top features and the description.
func buildKeywords(analysis map[string]any, description string) []string {
	const max = 5
	var keywords []string

	if stack, ok := analysis["stack"].(map[string]any); ok {
		for _, v := range stack {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				keywords = append(keywords, s)
			}
		}
	}
	if features, ok := analysis["features"].([]any); ok {
		for i, f := range features {
			if i >= 3 || len(keywords) >= max {
				break
			}
			if s, ok := f.(string); ok {
				keywords = append(keywords, s)
			}
		}
	}
	if len(keywords) < max {
		desc := strings.TrimSpace(description)
		if len(desc) > 50 {
			desc = desc[:50]
		}
		if desc != "" {
			keywords = append(keywords, desc)
		}
	}
	if len(keywords) > max {
		keywords = keywords[:max]
	}
	return keywords
}

// architecturePrompt embeds the analysis, the type constraints and any
// relevant skills into the architect's user prompt.
func architecturePrompt(analysis map[string]any, template project.Template, skillRefs []map[string]string) string {
	analysisJSON, _ := json.MarshalIndent(analysis, "", "  ")

	var sb strings.Builder
	sb.WriteString("Product analysis:\n")
	sb.Write(analysisJSON)
	sb.WriteString("\n\nArchitecture constraints for this project type:\n")
	for _, line := range template.Architecture {
		sb.WriteString("- " + line + "\n")
	}
	sb.WriteString("\nThe deployment Dockerfile will be:\n")
	sb.WriteString(template.Dockerfile)
	if len(skillRefs) > 0 {
		sb.WriteString("\n\nRelevant references:\n")
		for _, ref := range skillRefs {
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", ref["title"], ref["href"]))
		}
	}
	sb.WriteString("\n\nDesign the application and respond with the JSON object described in your instructions.")
	return sb.String()
}

// scaffoldPrompt embeds the scaffold guidance and the mandatory Dockerfile.
func scaffoldPrompt(p *models.Pipeline, template project.Template) string {
	architectureJSON, _ := json.MarshalIndent(p.Artifacts["architecture"], "", "  ")

	var sb strings.Builder
	sb.WriteString("Bootstrap this project:\n")
	sb.WriteString(p.Description + "\n")
	sb.WriteString("\nArchitecture:\n")
	sb.Write(architectureJSON)
	sb.WriteString("\n\nFiles to create:\n")
	for _, line := range template.Scaffold {
		sb.WriteString("- " + line + "\n")
	}
	sb.WriteString("\nThe Dockerfile MUST be exactly:\n")
	sb.WriteString(template.Dockerfile)
	sb.WriteString("\n\nNever use shell-style redirections (>, >>, <) inside COPY instructions.")
	return sb.String()
}
