package main

import (
	"github.com/spf13/cobra"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

var (
	enrollmentReason   string
	enrollmentSequence string
	enrollmentStatus   string
	enrollmentLimit    int
)

func init() {
	rootCmd.AddCommand(enrollmentCmd)
	enrollmentCmd.AddCommand(enrollmentShowCmd)
	enrollmentCmd.AddCommand(enrollmentListCmd)
	enrollmentCmd.AddCommand(enrollmentPauseCmd)
	enrollmentCmd.AddCommand(enrollmentResumeCmd)
	enrollmentCmd.AddCommand(enrollmentExitCmd)

	enrollmentPauseCmd.Flags().StringVar(&enrollmentReason, "reason", "", "reason stored on the enrollment")
	enrollmentExitCmd.Flags().StringVar(&enrollmentReason, "reason", "", "exit reason (default: Manual exit)")

	enrollmentListCmd.Flags().StringVar(&enrollmentSequence, "sequence", "", "filter by sequence")
	enrollmentListCmd.Flags().StringVar(&enrollmentStatus, "status", "", "filter by status (active, paused, completed, exited)")
	enrollmentListCmd.Flags().IntVar(&enrollmentLimit, "limit", 50, "maximum enrollments to list")
}

var enrollmentCmd = &cobra.Command{
	Use:   "enrollment",
	Short: "Inspect and control enrollments",
}

var enrollmentShowCmd = &cobra.Command{
	Use:   "show <enrollment-id>",
	Short: "Show an enrollment with its executions and signals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.engine.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var enrollmentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrollments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		filter := store.EnrollmentFilter{SequenceID: enrollmentSequence, Limit: enrollmentLimit}
		if enrollmentStatus != "" {
			st := schema.EnrollmentStatus(enrollmentStatus)
			filter.Status = &st
		}
		enrs, err := a.store.ListEnrollments(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), enrs)
	},
}

var enrollmentPauseCmd = &cobra.Command{
	Use:   "pause <enrollment-id>",
	Short: "Pause an active enrollment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		enr, err := a.engine.Pause(cmd.Context(), args[0], enrollmentReason)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), enr)
	},
}

var enrollmentResumeCmd = &cobra.Command{
	Use:   "resume <enrollment-id>",
	Short: "Resume a paused enrollment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		enr, err := a.engine.Resume(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), enr)
	},
}

var enrollmentExitCmd = &cobra.Command{
	Use:   "exit <enrollment-id>",
	Short: "Exit an enrollment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		enr, err := a.engine.Exit(cmd.Context(), args[0], enrollmentReason)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), enr)
	},
}
