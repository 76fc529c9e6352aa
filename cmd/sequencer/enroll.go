package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omnivurse/crm-eco-sub011/internal/engine"
	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

var (
	enrollModule string
	enrollEmail  string
	enrollBy     string

	recordModule string
	recordEmail  string
	recordFields string
	recordTags   []string

	signalPayload string
)

func init() {
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordSetCmd)
	recordCmd.AddCommand(recordTagCmd)
	recordCmd.AddCommand(recordUntagCmd)

	enrollCmd.Flags().StringVar(&enrollModule, "module", "leads", "module of the record")
	enrollCmd.Flags().StringVar(&enrollEmail, "email", "", "recipient email address")
	enrollCmd.Flags().StringVar(&enrollBy, "by", "", "user performing the enrollment")
	_ = enrollCmd.MarkFlagRequired("email")

	recordSetCmd.Flags().StringVar(&recordModule, "module", "leads", "module of the record")
	recordSetCmd.Flags().StringVar(&recordEmail, "email", "", "record email address")
	recordSetCmd.Flags().StringVar(&recordFields, "fields", "", "record fields as a JSON object")
	recordSetCmd.Flags().StringSliceVar(&recordTags, "tag", nil, "record tag (repeatable)")

	signalCmd.Flags().StringVar(&signalPayload, "payload", "", "event payload as a JSON object")
}

var enrollCmd = &cobra.Command{
	Use:   "enroll <sequence-id> <record-id>",
	Short: "Enroll a record into a sequence",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		enr, err := a.engine.Enroll(cmd.Context(), engine.EnrollRequest{
			SequenceID: args[0],
			RecordID:   args[1],
			ModuleKey:  enrollModule,
			Email:      enrollEmail,
			EnrolledBy: enrollBy,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), enr)
	},
}

var signalCmd = &cobra.Command{
	Use:   "signal <enrollment-id> <open|click|reply|bounce|unsubscribe>",
	Short: "Record an email event for an enrollment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := engine.SignalRequest{EnrollmentID: args[0], Type: schema.SignalType(args[1])}
		if signalPayload != "" {
			if !json.Valid([]byte(signalPayload)) {
				return fmt.Errorf("--payload is not valid JSON")
			}
			req.Payload = json.RawMessage(signalPayload)
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sig, err := a.engine.RecordSignal(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sig)
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage record snapshots",
	Long:  "Manage the record snapshots that merge fields, conditions and tag exits read from.",
}

var recordSetCmd = &cobra.Command{
	Use:   "set <record-id>",
	Short: "Create or replace a record snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := &store.Record{
			ID:        args[0],
			ModuleKey: recordModule,
			Email:     strings.TrimSpace(recordEmail),
			Tags:      recordTags,
		}
		if recordFields != "" {
			if err := json.Unmarshal([]byte(recordFields), &rec.Fields); err != nil {
				return fmt.Errorf("--fields: %w", err)
			}
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.UpsertRecord(cmd.Context(), rec); err != nil {
			return err
		}
		stored, err := a.store.GetRecord(cmd.Context(), rec.ID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), stored)
	},
}

var recordTagCmd = &cobra.Command{
	Use:   "tag <record-id> <tag>",
	Short: "Add a tag to a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.store.AddRecordTag(cmd.Context(), args[0], args[1])
	},
}

var recordUntagCmd = &cobra.Command{
	Use:   "untag <record-id> <tag>",
	Short: "Remove a tag from a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.store.RemoveRecordTag(cmd.Context(), args[0], args[1])
	},
}
