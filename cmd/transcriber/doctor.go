package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"audio-transcriber/internal/diagnostics"
	"audio-transcriber/internal/domain"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check tools, models and directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}
			return runDoctor(cmd, ctx, diagnostics.NewChecker(), settings)
		},
	}
}

type diagnosticsRunner interface {
	Run(settings domain.Settings) []domain.DiagnosticResult
}

func runDoctor(cmd *cobra.Command, ctx *commandContext, checker diagnosticsRunner, settings domain.Settings) error {
	results := checker.Run(settings)

	if ctx.jsonFlag {
		if err := writeJSON(cmd, results); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(results))
		for _, result := range results {
			rows = append(rows, []string{result.Name, statusLabel(result.Status), result.Message})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Details"}, rows, nil))

		for _, result := range results {
			if len(result.Suggestions) == 0 || result.Status == domain.DiagnosticStatusPass || result.Status == domain.DiagnosticStatusInfo {
				continue
			}
			fmt.Fprintf(out, "\n%s:\n", result.Name)
			for _, suggestion := range result.Suggestions {
				fmt.Fprintf(out, "  - %s\n", suggestion)
			}
		}
	}

	if domain.HasFailures(results) {
		return errors.New("one or more checks failed")
	}
	return nil
}

func statusLabel(status domain.DiagnosticStatus) string {
	switch status {
	case domain.DiagnosticStatusPass:
		return "ok"
	case domain.DiagnosticStatusWarning:
		return "warn"
	case domain.DiagnosticStatusFail:
		return "FAIL"
	default:
		return strings.ToLower(string(status))
	}
}
