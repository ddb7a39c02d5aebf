package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fixwise/internal/types"
)

// ticketCmd groups the expert-side ticket operations.
var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Manage escalation tickets",
}

var ticketAssignCmd = &cobra.Command{
	Use:   "assign [ticket-id] [expert-contact]",
	Short: "Assign a ticket to an expert",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ticket, err := a.workflow.Assign(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		printTicket(ticket)
		return nil
	},
}

var ticketResolveCmd = &cobra.Command{
	Use:   "resolve [ticket-id]",
	Short: "Mark a ticket resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ticket, err := a.workflow.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTicket(ticket)
		return nil
	},
}

var ticketCloseCmd = &cobra.Command{
	Use:   "close [ticket-id]",
	Short: "Close a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ticket, err := a.workflow.Close(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTicket(ticket)
		return nil
	},
}

func printTicket(t *types.Ticket) {
	fmt.Printf("%s  %-9s %-8s %s", t.Number, t.Status, t.Priority, t.Reason)
	if t.ExpertContact != "" {
		fmt.Printf("  -> %s", t.ExpertContact)
	}
	fmt.Println()
}

func init() {
	ticketCmd.AddCommand(ticketAssignCmd)
	ticketCmd.AddCommand(ticketResolveCmd)
	ticketCmd.AddCommand(ticketCloseCmd)
}
