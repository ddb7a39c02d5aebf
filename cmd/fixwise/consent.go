package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fixwise/internal/types"
)

// consentCmd records and inspects data-handling consent.
var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Record or show a user's data-handling consent",
}

var consentRecordCmd = &cobra.Command{
	Use:   "record [user-id] [policy-version]",
	Short: "Record acceptance of a policy version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		user := types.NewUserID(args[0])
		rec, err := a.store.RecordConsent(cmd.Context(), user, args[1])
		if err != nil {
			return err
		}
		a.recorder.Record(cmd.Context(), types.AuditEvent{
			Subject:   types.SubjectConsent,
			SubjectID: user.String(),
			Action:    "accepted",
			Actor:     user.String(),
			Details:   map[string]any{"policy_version": rec.PolicyVersion},
		})
		fmt.Printf("Recorded consent: %s accepted %s at %s\n",
			rec.UserID, rec.PolicyVersion, rec.AcceptedAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

var consentShowCmd = &cobra.Command{
	Use:   "show [user-id]",
	Short: "Show the latest accepted policy version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.store.LatestConsent(cmd.Context(), types.NewUserID(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("%s accepted %s at %s\n",
			rec.UserID, rec.PolicyVersion, rec.AcceptedAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func init() {
	consentCmd.AddCommand(consentRecordCmd)
	consentCmd.AddCommand(consentShowCmd)
}
