package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Manage teams",
}

var teamCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a team",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, home, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		team, err := db.CreateTeam(args[0])
		if err != nil {
			return err
		}
		if err := home.EnsureTeam(team.Name); err != nil {
			return fmt.Errorf("creating team directories: %w", err)
		}
		fmt.Printf("created team %s\n", team.Name)
		return nil
	},
}

var teamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List teams",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		teams, err := db.ListTeams()
		if err != nil {
			return err
		}
		for _, team := range teams {
			fmt.Println(team.Name)
		}
		return nil
	},
}

var teamDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a team and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteTeam(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted team %s\n", args[0])
		return nil
	},
}

func init() {
	teamCmd.AddCommand(teamCreateCmd)
	teamCmd.AddCommand(teamListCmd)
	teamCmd.AddCommand(teamDeleteCmd)
}
