package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/denyherianto/delegate/pkg/models"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agents",
}

var (
	agentRole  string
	agentModel string
	agentBio   string
)

var agentCreateCmd = &cobra.Command{
	Use:   "create <team> <name>",
	Short: "Create an agent on a team",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := models.AgentRole(agentRole)
		switch role {
		case models.RoleManager, models.RoleEngineer, models.RoleQA:
		default:
			return fmt.Errorf("unknown role %q: want manager, engineer, or qa", agentRole)
		}

		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		agent := &models.Agent{
			Name:  args[1],
			Team:  args[0],
			Role:  role,
			Model: agentModel,
			Bio:   agentBio,
		}
		if err := db.CreateAgent(agent); err != nil {
			return err
		}
		fmt.Printf("created %s %s on team %s\n", role, agent.Name, agent.Team)
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list <team>",
	Short: "List a team's agents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		agents, err := db.ListAgents(args[0])
		if err != nil {
			return err
		}
		for _, agent := range agents {
			fmt.Printf("%-16s %s\n", agent.Name, agent.Role)
		}
		return nil
	},
}

var agentDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteAgent(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted agent %s\n", args[0])
		return nil
	},
}

func init() {
	agentCreateCmd.Flags().StringVar(&agentRole, "role", "engineer", "agent role: manager, engineer, or qa")
	agentCreateCmd.Flags().StringVar(&agentModel, "model", "", "model override for this agent")
	agentCreateCmd.Flags().StringVar(&agentBio, "bio", "", "background included in the agent's preamble")

	agentCmd.AddCommand(agentCreateCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentDeleteCmd)
}
