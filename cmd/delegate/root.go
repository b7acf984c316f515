package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/denyherianto/delegate/internal/config"
	"github.com/denyherianto/delegate/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Autonomous team orchestration daemon",
	Long: `Delegate runs teams of autonomous coding agents on your machine.

Agents exchange messages through per-team mailboxes, work tasks through a
review and approval workflow, and land finished work onto main through a
serialized merge coordinator. A single background daemon drives everything;
this CLI manages the daemon and the org it runs.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(teamCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(memberCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(nukeCmd)
	rootCmd.AddCommand(versionCmd)
}

// openHome resolves the daemon home.
func openHome() (*config.Home, error) {
	home, err := config.NewHome()
	if err != nil {
		return nil, err
	}
	if err := home.Ensure(); err != nil {
		return nil, fmt.Errorf("preparing home: %w", err)
	}
	return home, nil
}

// openStore opens the home's database with migrations applied.
func openStore() (*store.DB, *config.Home, error) {
	home, err := openHome()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(home.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, home, nil
}
