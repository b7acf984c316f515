package models

// AgentRole describes the responsibility of an agent within its team.
type AgentRole string

const (
	// RoleManager coordinates the team: assigns tasks, handles rejections.
	RoleManager AgentRole = "manager"
	// RoleEngineer implements tasks.
	RoleEngineer AgentRole = "engineer"
	// RoleQA reviews completed work before approval.
	RoleQA AgentRole = "qa"
)

// Agent is an autonomous participant scoped to a team.
type Agent struct {
	// Name is the globally-unique agent name.
	Name string `json:"name"`
	// Team is the slug of the team the agent belongs to.
	Team string `json:"team"`
	// Role is the agent's responsibility within the team.
	Role AgentRole `json:"role"`
	// Model is the opaque model identifier used for the agent's sessions.
	Model string `json:"model"`
	// Bio is free-form background included in the agent's preamble.
	Bio string `json:"bio,omitempty"`
}

// Member is a human participant, org-global and auto-joined to every team.
type Member struct {
	// Name is the globally-unique member name.
	Name string `json:"name"`
	// Email is optional contact information.
	Email string `json:"email,omitempty"`
}

// ParticipantKind distinguishes agents from human members.
type ParticipantKind string

const (
	// ParticipantAgent is an autonomous agent.
	ParticipantAgent ParticipantKind = "agent"
	// ParticipantMember is a human member.
	ParticipantMember ParticipantKind = "member"
)
