package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omnivurse/crm-eco-sub011/internal/diagram"
	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/internal/validation"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

var (
	importActivate bool
	listOrg        string
	listStatus     string
	listLimit      int

	diagramFormat     string
	diagramEnrollment string
)

func init() {
	rootCmd.AddCommand(sequenceCmd)
	sequenceCmd.AddCommand(sequenceImportCmd)
	sequenceCmd.AddCommand(sequenceListCmd)
	sequenceCmd.AddCommand(sequenceShowCmd)
	sequenceCmd.AddCommand(sequenceDiagramCmd)
	sequenceCmd.AddCommand(sequenceStatusCmd("activate", schema.SequenceStatusActive))
	sequenceCmd.AddCommand(sequenceStatusCmd("pause", schema.SequenceStatusPaused))
	sequenceCmd.AddCommand(sequenceStatusCmd("archive", schema.SequenceStatusArchived))

	sequenceImportCmd.Flags().BoolVar(&importActivate, "activate", false, "activate the sequence after import")
	sequenceListCmd.Flags().StringVar(&listOrg, "org", "", "filter by organization")
	sequenceListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (draft, active, paused, archived)")
	sequenceListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum sequences to list")
	sequenceDiagramCmd.Flags().StringVar(&diagramFormat, "format", "mermaid", "output format: mermaid or ascii")
	sequenceDiagramCmd.Flags().StringVar(&diagramEnrollment, "enrollment", "", "overlay the progress of this enrollment")
}

var sequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "Manage sequences",
}

var sequenceImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a sequence definition from JSON or YAML",
	Long:  "Validate a JSON or YAML sequence definition and store it as a draft. Sequences without a timezone get the configured default.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := validation.LoadDefinitionFile(args[0])
		if err != nil {
			return err
		}
		if def.Settings.Timezone == "" {
			def.Settings.Timezone = cfg.Timezone
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		seq, err := a.engine.DefineSequence(cmd.Context(), def)
		if err != nil {
			return err
		}
		if importActivate {
			activated, err := a.engine.SetSequenceStatus(cmd.Context(), seq.ID, schema.SequenceStatusActive)
			if err != nil {
				return fmt.Errorf("sequence %s imported but not activated: %w", seq.ID, err)
			}
			seq = activated
		}
		return printJSON(cmd.OutOrStdout(), seq)
	},
}

var sequenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sequences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		filter := store.SequenceFilter{OrganizationID: listOrg, Limit: listLimit}
		if listStatus != "" {
			st := schema.SequenceStatus(listStatus)
			filter.Status = &st
		}
		seqs, err := a.store.ListSequences(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), seqs)
	},
}

var sequenceShowCmd = &cobra.Command{
	Use:   "show <sequence-id>",
	Short: "Show a sequence with its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		seq, err := a.store.GetSequence(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), seq)
	},
}

var sequenceDiagramCmd = &cobra.Command{
	Use:   "diagram <sequence-id>",
	Short: "Render a sequence as a flowchart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		seq, err := a.store.GetSequence(ctx, args[0])
		if err != nil {
			return err
		}

		var (
			enr   *store.Enrollment
			execs []*store.StepExecution
		)
		if diagramEnrollment != "" {
			status, err := a.engine.Status(ctx, diagramEnrollment)
			if err != nil {
				return err
			}
			enr, execs = status.Enrollment, status.Executions
		}

		model, err := diagram.Build(seq, enr, execs)
		if err != nil {
			return err
		}
		out, err := diagram.Render(model, diagramFormat)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	},
}

func sequenceStatusCmd(verb string, to schema.SequenceStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <sequence-id>",
		Short: fmt.Sprintf("Move a sequence to %s", to),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			seq, err := a.engine.SetSequenceStatus(cmd.Context(), args[0], to)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), seq)
		},
	}
}
