package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/monitoring"
	"github.com/sells-group/contractml/internal/store"
)

// statsLimit bounds how many log rows executions stats reads.
const statsLimit = 10000

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect the execution log",
	Long:  "Commands for listing, viewing, and summarizing recorded contract executions. Requires store.driver sqlite or postgres.",
}

// openStore opens the configured execution log, failing when none is
// configured.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("cli"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if st == nil {
		return nil, eris.New("no execution log configured (set store.driver to sqlite or postgres)")
	}
	return st, nil
}

// -- executions list --

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded executions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		domain, _ := cmd.Flags().GetString("domain")
		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ExecutionFilter{
			Domain: domain,
			Status: model.ExecutionStatus(status),
			Limit:  limit,
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		recs, err := st.ListExecutions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "executions list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No executions found.")
			return nil
		}

		formatExecutionsList(cmd.OutOrStdout(), recs)
		return nil
	},
}

// -- executions show --

var executionsShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show one recorded execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetExecution(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "executions show")
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

// -- executions stats --

var executionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate execution statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		domain, _ := cmd.Flags().GetString("domain")
		since, _ := cmd.Flags().GetDuration("since")
		filter := store.ExecutionFilter{Domain: domain, Limit: statsLimit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		recs, err := st.ListExecutions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "executions stats")
		}

		formatExecutionStats(cmd.OutOrStdout(), monitoring.Summarize(recs))
		return nil
	},
}

func init() {
	executionsListCmd.Flags().String("domain", "", "filter by domain")
	executionsListCmd.Flags().String("status", "", "filter by status (success, error)")
	executionsListCmd.Flags().Duration("since", 0, "only executions newer than this (e.g. 1h, 24h)")
	executionsListCmd.Flags().Int("limit", 50, "max number of executions to display")

	executionsStatsCmd.Flags().String("domain", "", "filter by domain")
	executionsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	executionsCmd.AddCommand(executionsListCmd)
	executionsCmd.AddCommand(executionsShowCmd)
	executionsCmd.AddCommand(executionsStatsCmd)
	rootCmd.AddCommand(executionsCmd)
}

// formatExecutionsList writes a tabular list of executions to out.
func formatExecutionsList(out io.Writer, recs []model.ExecutionRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOMAIN\tVERSION\tMIGRATION\tDRIFT\tSTATUS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t---------\t-----\t------\t-------\t--------")

	for _, r := range recs {
		version := r.TargetVersion
		if r.SourceVersion != "" && r.SourceVersion != r.TargetVersion {
			version = r.SourceVersion + "->" + r.TargetVersion
		}
		status := string(r.Status)
		if r.ErrorKind != "" {
			status += " (" + r.ErrorKind + ")"
		}
		drift := ""
		if r.DriftDetected {
			drift = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.2fms\n",
			truncateID(r.ID),
			r.Domain,
			version,
			r.MigrationStatus,
			drift,
			status,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.DurationMs,
		)
	}
	_ = w.Flush()
}

// formatExecutionStats writes aggregate stats to out.
func formatExecutionStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total executions:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Failed:\t%d (%.1f%%)\n", s.Failed, s.FailRate*100)

	kinds := make([]string, 0, len(s.ErrorKinds))
	for k := range s.ErrorKinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", k, s.ErrorKinds[k])
	}

	_, _ = fmt.Fprintf(w, "Drift detected:\t%d (%.1f%%)\n", s.Drifted, s.DriftRate*100)
	_, _ = fmt.Fprintf(w, "Migrated:\t%d\n", s.Migrated)
	_, _ = fmt.Fprintf(w, "Passthrough:\t%d\n", s.Passthrough)
	if s.Total > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.2fms\n", s.AvgDurationMs)
		_, _ = fmt.Fprintf(w, "P95 duration:\t%.2fms\n", s.P95DurationMs)
	}
	_ = w.Flush()

	if len(s.Domains) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOMAIN\tTOTAL\tFAILED\tDRIFTED\tMIGRATED\tPASSTHROUGH")
	for _, d := range s.Domains {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", d.Domain, d.Total, d.Failed, d.Drifted, d.Migrated, d.Passthrough)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
