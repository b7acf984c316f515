package store

import (
	"errors"
	"testing"

	"github.com/denyherianto/delegate/pkg/models"
)

func TestCreateTeam(t *testing.T) {
	db := setupTestDB(t)

	team, err := db.CreateTeam("backend")
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if team.Name != "backend" {
		t.Errorf("Name = %q, want %q", team.Name, "backend")
	}

	got, err := db.GetTeam("backend")
	if err != nil {
		t.Fatalf("GetTeam failed: %v", err)
	}
	if got.Name != "backend" {
		t.Errorf("GetTeam Name = %q, want %q", got.Name, "backend")
	}
}

func TestCreateTeam_Duplicate(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.CreateTeam("backend"); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if _, err := db.CreateTeam("backend"); !errors.Is(err, ErrTeamExists) {
		t.Errorf("duplicate CreateTeam error = %v, want ErrTeamExists", err)
	}
}

func TestCreateTeam_InvalidName(t *testing.T) {
	db := setupTestDB(t)

	for _, name := range []string{"", "Backend", "my team", "-lead", "ops/infra"} {
		if _, err := db.CreateTeam(name); err == nil {
			t.Errorf("CreateTeam(%q) succeeded, want validation error", name)
		}
	}
}

func TestGetTeam_NotFound(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.GetTeam("ghost"); !errors.Is(err, ErrTeamNotFound) {
		t.Errorf("GetTeam error = %v, want ErrTeamNotFound", err)
	}
}

func TestListTeams(t *testing.T) {
	db := setupTestDB(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := db.CreateTeam(name); err != nil {
			t.Fatalf("CreateTeam(%q) failed: %v", name, err)
		}
	}

	teams, err := db.ListTeams()
	if err != nil {
		t.Fatalf("ListTeams failed: %v", err)
	}
	if len(teams) != 3 {
		t.Fatalf("len(teams) = %d, want 3", len(teams))
	}
	// Ordered by name.
	want := []string{"alpha", "mid", "zeta"}
	for i, team := range teams {
		if team.Name != want[i] {
			t.Errorf("teams[%d] = %q, want %q", i, team.Name, want[i])
		}
	}
}

func TestDeleteTeam_Cascades(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.CreateTeam("backend"); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if err := db.CreateAgent(&models.Agent{Name: "alice", Team: "backend", Role: models.RoleEngineer}); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := db.CreateTask("backend", "do stuff", ""); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := db.DeleteTeam("backend"); err != nil {
		t.Fatalf("DeleteTeam failed: %v", err)
	}

	if _, err := db.GetAgent("alice"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("agent survived team delete: %v", err)
	}
	tasks, err := db.ListTasks("backend", TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("len(tasks) = %d after team delete, want 0", len(tasks))
	}
}

func TestCreateAgent(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.CreateTeam("backend"); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	agent := &models.Agent{Name: "alice", Team: "backend", Role: models.RoleManager, Model: "claude-sonnet-4-5", Bio: "keeps the team honest"}
	if err := db.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	got, err := db.GetAgent("alice")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.Team != "backend" || got.Role != models.RoleManager || got.Model != "claude-sonnet-4-5" {
		t.Errorf("GetAgent = %+v, want round-tripped fields", got)
	}
}

func TestCreateAgent_UnknownTeam(t *testing.T) {
	db := setupTestDB(t)

	err := db.CreateAgent(&models.Agent{Name: "alice", Team: "ghost", Role: models.RoleEngineer})
	if !errors.Is(err, ErrTeamNotFound) {
		t.Errorf("CreateAgent error = %v, want ErrTeamNotFound", err)
	}
}

func TestAgentNames_GloballyUnique(t *testing.T) {
	db := setupTestDB(t)

	for _, name := range []string{"backend", "frontend"} {
		if _, err := db.CreateTeam(name); err != nil {
			t.Fatalf("CreateTeam failed: %v", err)
		}
	}
	if err := db.CreateAgent(&models.Agent{Name: "alice", Team: "backend", Role: models.RoleEngineer}); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	// Same name in a different team is still a collision.
	err := db.CreateAgent(&models.Agent{Name: "alice", Team: "frontend", Role: models.RoleEngineer})
	if !errors.Is(err, ErrNameTaken) {
		t.Errorf("cross-team duplicate error = %v, want ErrNameTaken", err)
	}
}

func TestParticipantNamespace_SharedWithMembers(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.CreateTeam("backend"); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if err := db.CreateMember(&models.Member{Name: "sam", Email: "sam@example.com"}); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	// An agent may not take a member's name.
	err := db.CreateAgent(&models.Agent{Name: "sam", Team: "backend", Role: models.RoleEngineer})
	if !errors.Is(err, ErrNameTaken) {
		t.Errorf("agent with member name error = %v, want ErrNameTaken", err)
	}

	// And a member may not take an agent's name.
	if err := db.CreateAgent(&models.Agent{Name: "alice", Team: "backend", Role: models.RoleEngineer}); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	err = db.CreateMember(&models.Member{Name: "alice"})
	if !errors.Is(err, ErrNameTaken) {
		t.Errorf("member with agent name error = %v, want ErrNameTaken", err)
	}
}

func TestListAgents(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.CreateTeam("backend"); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if _, err := db.CreateTeam("frontend"); err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	for _, a := range []*models.Agent{
		{Name: "bob", Team: "backend", Role: models.RoleEngineer},
		{Name: "alice", Team: "backend", Role: models.RoleManager},
		{Name: "carol", Team: "frontend", Role: models.RoleQA},
	} {
		if err := db.CreateAgent(a); err != nil {
			t.Fatalf("CreateAgent(%q) failed: %v", a.Name, err)
		}
	}

	agents, err := db.ListAgents("backend")
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("len(agents) = %d, want 2", len(agents))
	}
	if agents[0].Name != "alice" || agents[1].Name != "bob" {
		t.Errorf("agents = [%s %s], want [alice bob]", agents[0].Name, agents[1].Name)
	}
}

func TestMembers_CRUD(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateMember(&models.Member{Name: "sam", Email: "sam@example.com"}); err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	got, err := db.GetMember("sam")
	if err != nil {
		t.Fatalf("GetMember failed: %v", err)
	}
	if got.Email != "sam@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "sam@example.com")
	}

	members, err := db.ListMembers()
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("len(members) = %d, want 1", len(members))
	}

	if err := db.DeleteMember("sam"); err != nil {
		t.Fatalf("DeleteMember failed: %v", err)
	}
	if _, err := db.GetMember("sam"); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("GetMember after delete = %v, want ErrMemberNotFound", err)
	}
}
