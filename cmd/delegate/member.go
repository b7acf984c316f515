package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/denyherianto/delegate/pkg/models"
)

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage human members",
}

var memberEmail string

var memberAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a human member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		member := &models.Member{Name: args[0], Email: memberEmail}
		if err := db.CreateMember(member); err != nil {
			return err
		}
		fmt.Printf("added member %s\n", member.Name)
		return nil
	},
}

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List members",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		members, err := db.ListMembers()
		if err != nil {
			return err
		}
		for _, member := range members {
			if member.Email != "" {
				fmt.Printf("%-16s %s\n", member.Name, member.Email)
			} else {
				fmt.Println(member.Name)
			}
		}
		return nil
	},
}

var memberRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteMember(args[0]); err != nil {
			return err
		}
		fmt.Printf("removed member %s\n", args[0])
		return nil
	},
}

func init() {
	memberAddCmd.Flags().StringVar(&memberEmail, "email", "", "contact email")

	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberListCmd)
	memberCmd.AddCommand(memberRemoveCmd)
}
