package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/denyherianto/delegate/internal/config"
	"github.com/denyherianto/delegate/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the daemon in the foreground",
	Long: `Start the orchestration daemon. Only one daemon runs per home;
a second start fails while the first holds the lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := openHome()
		if err != nil {
			return err
		}
		cfg, err := config.Load(home)
		if err != nil {
			return err
		}
		return daemon.New(home, cfg).Run(context.Background())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := openHome()
		if err != nil {
			return err
		}
		if err := daemon.Stop(home.LockFile(), home.PIDFile(), 15*time.Second); err != nil {
			return err
		}
		fmt.Println("daemon stopped")
		return nil
	},
}
