package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/denyherianto/delegate/internal/config"
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage the agent network allowlist",
	Long: `Manage the hosts agent sessions may reach. Entries are exact
hostnames or "*.suffix" wildcards. The running daemon picks up edits
without a restart.`,
}

var networkShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show allowed hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := openHome()
		if err != nil {
			return err
		}
		allowlist, err := config.LoadAllowlist(home.AllowlistPath())
		if err != nil {
			return err
		}
		hosts := allowlist.Hosts()
		if len(hosts) == 0 {
			fmt.Println("allowlist is empty: agents have no network access")
			return nil
		}
		for _, host := range hosts {
			fmt.Println(host)
		}
		return nil
	},
}

var networkAllowCmd = &cobra.Command{
	Use:   "allow <host>",
	Short: "Add a host to the allowlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editAllowlist(func(hosts []string) []string {
			for _, h := range hosts {
				if h == args[0] {
					return hosts
				}
			}
			return append(hosts, args[0])
		})
	},
}

var networkDenyCmd = &cobra.Command{
	Use:   "deny <host>",
	Short: "Remove a host from the allowlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editAllowlist(func(hosts []string) []string {
			kept := hosts[:0]
			for _, h := range hosts {
				if h != args[0] {
					kept = append(kept, h)
				}
			}
			return kept
		})
	},
}

func editAllowlist(edit func([]string) []string) error {
	home, err := openHome()
	if err != nil {
		return err
	}
	allowlist, err := config.LoadAllowlist(home.AllowlistPath())
	if err != nil {
		return err
	}

	hosts := edit(allowlist.Hosts())
	data, err := yaml.Marshal(map[string][]string{"hosts": hosts})
	if err != nil {
		return err
	}
	if err := os.WriteFile(home.AllowlistPath(), data, 0o644); err != nil {
		return err
	}
	fmt.Printf("allowlist now has %d host(s)\n", len(hosts))
	return nil
}

func init() {
	networkCmd.AddCommand(networkShowCmd)
	networkCmd.AddCommand(networkAllowCmd)
	networkCmd.AddCommand(networkDenyCmd)
}
