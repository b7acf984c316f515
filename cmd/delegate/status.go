package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/denyherianto/delegate/internal/daemon"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/pkg/models"
)

var (
	teamStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and org status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, home, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if pid, running := daemon.RunningPID(home.LockFile(), home.PIDFile()); running {
		color.Green("daemon running (pid %d)", pid)
	} else {
		color.Yellow("daemon not running")
	}
	fmt.Println()

	teams, err := db.ListTeams()
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		fmt.Println("No teams. Create one with 'delegate team create <name>'.")
		return nil
	}

	for _, team := range teams {
		fmt.Println(teamStyle.Render(team.Name))

		agents, err := db.ListAgents(team.Name)
		if err != nil {
			return err
		}
		for _, agent := range agents {
			unread, _ := db.CountUnread(team.Name, agent.Name)
			line := fmt.Sprintf("  %-16s %-10s", agent.Name, agent.Role)
			if unread > 0 {
				line += fmt.Sprintf(" %d unread", unread)
			}
			fmt.Println(line)
		}

		if summary := taskSummary(db, team.Name); summary != "" {
			fmt.Println(dimStyle.Render("  tasks: " + summary))
		}
		fmt.Println()
	}
	return nil
}

// taskSummary renders non-zero task status counts, workflow order.
func taskSummary(db *store.DB, team string) string {
	order := []models.TaskStatus{
		models.TaskStatusUnassigned,
		models.TaskStatusAssigned,
		models.TaskStatusInProgress,
		models.TaskStatusInReview,
		models.TaskStatusInApproval,
		models.TaskStatusMerging,
		models.TaskStatusRejected,
		models.TaskStatusMergeFailed,
		models.TaskStatusDone,
	}
	var parts []string
	for _, status := range order {
		tasks, err := db.ListTasks(team, store.TaskFilter{Status: status})
		if err != nil || len(tasks) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", len(tasks), status))
	}
	return strings.Join(parts, ", ")
}
