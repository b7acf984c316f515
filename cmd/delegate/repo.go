package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/denyherianto/delegate/pkg/models"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage registered repositories",
}

var (
	repoApproval     string
	repoTestCmd      string
	repoPipelineFile string
)

var repoRegisterCmd = &cobra.Command{
	Use:   "register <team> <name> <path>",
	Short: "Register a repository with a team",
	Long: `Register a local git checkout under a team-scoped name.
Re-registering an existing name updates its path and settings.

The pre-merge pipeline comes from --pipeline (a YAML list of
{name, command, timeout_seconds} steps) or, for the common case,
--test-cmd which becomes a single step named "test".`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		approval := models.ApprovalMode(repoApproval)
		if !approval.Valid() {
			return fmt.Errorf("unknown approval mode %q: want auto or manual", repoApproval)
		}

		path, err := filepath.Abs(args[2])
		if err != nil {
			return err
		}
		if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
			return fmt.Errorf("%s is not a git checkout", path)
		}

		pipeline, err := loadPipeline()
		if err != nil {
			return err
		}

		db, home, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		repo := &models.Repo{
			Team:     args[0],
			Name:     args[1],
			Path:     path,
			Approval: approval,
			Pipeline: pipeline,
		}
		if err := db.RegisterRepo(repo); err != nil {
			return err
		}
		if err := home.LinkRepo(repo.Team, repo.Name, repo.Path); err != nil {
			return fmt.Errorf("linking checkout: %w", err)
		}
		fmt.Printf("registered %s/%s -> %s\n", repo.Team, repo.Name, repo.Path)
		return nil
	},
}

func loadPipeline() ([]models.PipelineStep, error) {
	if repoPipelineFile != "" {
		data, err := os.ReadFile(repoPipelineFile)
		if err != nil {
			return nil, fmt.Errorf("reading pipeline file: %w", err)
		}
		var steps []models.PipelineStep
		if err := yaml.Unmarshal(data, &steps); err != nil {
			return nil, fmt.Errorf("parsing pipeline file: %w", err)
		}
		return steps, nil
	}
	return models.WrapLegacyTestCmd(repoTestCmd), nil
}

var repoListCmd = &cobra.Command{
	Use:   "list <team>",
	Short: "List a team's repositories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		repos, err := db.ListRepos(args[0])
		if err != nil {
			return err
		}
		for _, repo := range repos {
			fmt.Printf("%-16s %-8s %s\n", repo.Name, repo.Approval, repo.Path)
		}
		return nil
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:   "remove <team> <name>",
	Short: "Remove a repository registration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, home, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RemoveRepo(args[0], args[1]); err != nil {
			return err
		}
		// Best effort: a stale link just dangles harmlessly.
		os.Remove(home.RepoPath(args[0], args[1]))
		fmt.Printf("removed %s/%s\n", args[0], args[1])
		return nil
	},
}

func init() {
	repoRegisterCmd.Flags().StringVar(&repoApproval, "approval", "auto", "approval mode: auto or manual")
	repoRegisterCmd.Flags().StringVar(&repoTestCmd, "test-cmd", "", "single pre-merge test command")
	repoRegisterCmd.Flags().StringVar(&repoPipelineFile, "pipeline", "", "YAML file of pre-merge pipeline steps")

	repoCmd.AddCommand(repoRegisterCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoRemoveCmd)
}
