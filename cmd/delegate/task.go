package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/internal/workflow"
	"github.com/denyherianto/delegate/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskDescription string

var taskCreateCmd = &cobra.Command{
	Use:   "create <team> <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if _, err := db.GetTeam(args[0]); err != nil {
			return err
		}
		task, err := db.CreateTask(args[0], args[1], taskDescription)
		if err != nil {
			return err
		}
		fmt.Printf("created T%d: %s\n", task.ID, task.Title)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list <team>",
	Short: "List a team's tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected a team name")
		}
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		tasks, err := db.ListTasks(args[0], store.TaskFilter{})
		if err != nil {
			return err
		}
		for _, task := range tasks {
			dri := task.DRI
			if dri == "" {
				dri = "-"
			}
			fmt.Printf("T%-5d %-12s %-16s %s\n", task.ID, task.Status, dri, task.Title)
		}
		return nil
	},
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign <team> <id> <agent>",
	Short: "Assign a task to an agent",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		return withEngine(func(engine *workflow.Engine) error {
			task, err := engine.AssignTask(args[0], id, args[2])
			if err != nil {
				return err
			}
			fmt.Printf("T%d assigned to %s\n", task.ID, task.DRI)
			return nil
		})
	},
}

var taskRejectReason string

var taskRejectCmd = &cobra.Command{
	Use:   "reject <team> <id>",
	Short: "Reject a task in review or approval",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if taskRejectReason == "" {
			return fmt.Errorf("--reason is required")
		}
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		return withEngine(func(engine *workflow.Engine) error {
			task, err := engine.Reject(args[0], id, taskRejectReason)
			if err != nil {
				return err
			}
			fmt.Printf("T%d rejected\n", task.ID)
			return nil
		})
	},
}

var taskReleaseCmd = &cobra.Command{
	Use:   "release <team> <id>",
	Short: "Release an approved task for merging",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		return withEngine(func(engine *workflow.Engine) error {
			task, err := engine.Release(args[0], id)
			if err != nil {
				return err
			}
			fmt.Printf("T%d released for merge\n", task.ID)
			return nil
		})
	},
}

var taskDiscardCmd = &cobra.Command{
	Use:   "discard <team> <id>",
	Short: "Discard a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		return withEngine(func(engine *workflow.Engine) error {
			if _, err := engine.Discard(args[0], id); err != nil {
				return err
			}
			fmt.Printf("T%d discarded\n", id)
			return nil
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <team> <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := db.GetTask(args[0], id)
		if err != nil {
			return err
		}
		printTask(task)
		return nil
	},
}

func printTask(task *models.Task) {
	fmt.Printf("T%d  %s\n", task.ID, task.Title)
	fmt.Printf("  status: %s\n", task.Status)
	if task.DRI != "" {
		fmt.Printf("  dri:    %s\n", task.DRI)
	}
	if task.Description != "" {
		fmt.Printf("  desc:   %s\n", task.Description)
	}
	for _, repo := range task.Repos() {
		fmt.Printf("  repo %s: branch=%s base=%s", repo, task.Branches[repo], short(task.BaseSHAs[repo]))
		if tip, ok := task.MergeTips[repo]; ok {
			fmt.Printf(" merged=%s", short(tip))
		}
		fmt.Println()
	}
	if task.RejectionReason != "" {
		fmt.Printf("  rejected: %s\n", task.RejectionReason)
	}
	if task.MergeAttempts > 0 {
		fmt.Printf("  merge attempts: %d\n", task.MergeAttempts)
	}
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func parseTaskID(s string) (int64, error) {
	if len(s) > 1 && (s[0] == 'T' || s[0] == 't') {
		s = s[1:]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("task id must be numeric, got %q", s)
	}
	return id, nil
}

// withEngine runs fn with a workflow engine over the home's store. CLI
// transitions go straight to the database; the daemon observes them on
// its next poll.
func withEngine(fn func(*workflow.Engine) error) error {
	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(workflow.NewEngine(db, bus.New()))
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskDescription, "description", "", "task description")
	taskRejectCmd.Flags().StringVar(&taskRejectReason, "reason", "", "rejection reason")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskAssignCmd)
	taskCmd.AddCommand(taskRejectCmd)
	taskCmd.AddCommand(taskReleaseCmd)
	taskCmd.AddCommand(taskDiscardCmd)
	taskCmd.AddCommand(taskShowCmd)
}
