package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/denyherianto/delegate/internal/daemon"
)

// nukeConfirmation must be typed verbatim before anything is removed.
const nukeConfirmation = "delete everything"

var nukeForce bool

var nukeCmd = &cobra.Command{
	Use:   "nuke",
	Short: "Delete the entire home: database, worktrees, and member state",
	Long: `Remove the daemon home and everything in it. Teams, agents, tasks,
messages, worktrees, and agent memory are all destroyed. The daemon must
be stopped first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := openHome()
		if err != nil {
			return err
		}

		if pid, running := daemon.RunningPID(home.LockFile(), home.PIDFile()); running {
			return fmt.Errorf("daemon is running (pid %d), stop it first", pid)
		}

		if !nukeForce {
			fmt.Printf("This deletes %s and everything in it.\n", home.Root())
			fmt.Printf("Type %q to continue: ", nukeConfirmation)
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			if strings.TrimSpace(line) != nukeConfirmation {
				fmt.Println("aborted")
				return nil
			}
		}

		if err := os.RemoveAll(home.Root()); err != nil {
			return err
		}
		fmt.Println("home deleted")
		return nil
	},
}

func init() {
	nukeCmd.Flags().BoolVar(&nukeForce, "force", false, "skip the confirmation prompt")
}
