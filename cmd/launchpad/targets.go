package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lattiam/launchpad/internal/interfaces"
)

func (a *app) newTargetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect registered targets",
	}
	cmd.AddCommand(a.newTargetsListCommand())
	return cmd
}

func (a *app) newTargetsListCommand() *cobra.Command {
	var selector, output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List targets with their lifecycle and deployed release",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			sys, closeFn, err := a.openSystem(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := sys.Targets(cmd.Context(), selector)
			if err != nil {
				return commandError(err, exitFailure)
			}

			if output == outputJSON {
				encoder := json.NewEncoder(a.stdout)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(records); err != nil {
					return fmt.Errorf("failed to encode targets: %w", err)
				}
				return nil
			}
			return renderTargets(a.stdout, records)
		},
	}

	cmd.Flags().StringVar(&selector, "selector", "all", "Target selector")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format (text, json)")
	return cmd
}

func renderTargets(w io.Writer, records []*interfaces.TargetRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tADDRESS\tLIFECYCLE\tCURRENT\tACTIVE RUN\tLABELS")
	for _, rec := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Target.ID, rec.Target.Address, rec.Lifecycle,
			orDash(rec.CurrentArtifact), orDash(rec.ActiveRun), formatLabels(rec.Target.Labels))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to render targets: %w", err)
	}
	return nil
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + labels[k]
	}
	return strings.Join(pairs, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
