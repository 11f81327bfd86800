// Package agent executes bounded conversational loops against the LLM
// with tool use, one invocation per pipeline agent role.
package agent

import "github.com/appforge/appforge/pkg/models"

// Role identifies one of the fixed pipeline agent roles.
type Role struct {
	Name  string
	Emoji string
}

// The fixed agent roles, in pipeline order.
var (
	RoleAnalyst   = Role{Name: "Analyst", Emoji: "🔍"}
	RoleArchitect = Role{Name: "Architect", Emoji: "📐"}
	RoleDeveloper = Role{Name: "Developer", Emoji: "💻"}
	RoleDebugger  = Role{Name: "Debugger", Emoji: "🔧"}
	RoleQA        = Role{Name: "QA", Emoji: "✅"}
)

// Roles lists every role in display order.
var Roles = []Role{RoleAnalyst, RoleArchitect, RoleDeveloper, RoleDebugger, RoleQA}

// DefaultAgentViews builds the initial agent status list for a new pipeline.
func DefaultAgentViews() []models.AgentView {
	views := make([]models.AgentView, len(Roles))
	for i, role := range Roles {
		views[i] = models.AgentView{
			Role:   role.Name,
			Emoji:  role.Emoji,
			Status: models.AgentWaiting,
		}
	}
	return views
}
