package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect trigger run history",
	Long:  "Commands for listing, viewing, and summarizing trigger runs and their candidates.",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trigger runs, newest first",
	RunE: withStore(func(cmd *cobra.Command, _ []string, st store.Store) error {
		f := cmd.Flags()
		triggerID, _ := f.GetString("trigger")
		status, _ := f.GetString("status")
		limit, _ := f.GetInt("limit")

		if status != "" && !model.RunStatus(status).Valid() {
			return eris.Errorf("runs list: unknown status %q", status)
		}
		runs, err := st.ListRuns(cmd.Context(), store.RunFilter{
			TriggerID: triggerID,
			Status:    model.RunStatus(status),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
			return nil
		}
		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	}),
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string, st store.Store) error {
		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return writeJSON(cmd.OutOrStdout(), run)
	}),
}

var runsCandidatesCmd = &cobra.Command{
	Use:   "candidates <run-id>",
	Short: "List the candidates uploaded by a run",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string, st store.Store) error {
		format, _ := cmd.Flags().GetString("format")

		cands, err := newService(st).Candidates(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "runs candidates")
		}

		out := cmd.OutOrStdout()
		switch format {
		case "csv":
			return writeCandidatesCSV(out, cands)
		case "json":
			return writeJSON(out, cands)
		case "table", "":
			if len(cands) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No candidates recorded.")
				return nil
			}
			formatCandidates(out, cands)
			return nil
		default:
			return eris.Errorf("runs candidates: unknown format %q", format)
		}
	}),
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: withStore(func(cmd *cobra.Command, _ []string, st store.Store) error {
		since, _ := cmd.Flags().GetDuration("since")
		stats, err := st.RunStats(cmd.Context(), time.Now().UTC().Add(-since))
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(cmd.OutOrStdout(), since, stats)
		return nil
	}),
}

func init() {
	runsListCmd.Flags().String("trigger", "", "filter by trigger ID")
	runsListCmd.Flags().String("status", "", "filter by run status (RUNNING, UPLOADING, COMPLETED, FAILED)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCandidatesCmd.Flags().String("format", "table", "output format: table, csv or json")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsCandidatesCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func formatRunsList(out io.Writer, runs []model.TriggerRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tCANDIDATES\tSTARTED\tDURATION\tMESSAGE")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.Duration().Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncateID(r.TriggerID),
			r.Status,
			r.CandidateCount,
			r.RunAt.Format("2006-01-02 15:04"),
			dur,
			ellipsis(r.StatusMessage, 50),
		)
	}
	_ = w.Flush()
}

func formatCandidates(out io.Writer, cands []model.TriggerCandidate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTITLE\tCOMPANY\tPROFILE")
	for _, c := range cands {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.FullName(), c.Title, c.Company, c.ProfileURL)
	}
	_ = w.Flush()
}

var candidateCSVHeader = []string{"first_name", "last_name", "title", "company", "profile_url", "created_at"}

// writeCandidatesCSV exports candidates in a CRM-importable layout.
func writeCandidatesCSV(out io.Writer, cands []model.TriggerCandidate) error {
	w := csv.NewWriter(out)
	if err := w.Write(candidateCSVHeader); err != nil {
		return eris.Wrap(err, "write csv header")
	}
	for _, c := range cands {
		rec := []string{c.FirstName, c.LastName, c.Title, c.Company, c.ProfileURL, c.CreatedAt.UTC().Format(time.RFC3339)}
		if err := w.Write(rec); err != nil {
			return eris.Wrap(err, "write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "flush csv")
}

func formatRunStats(out io.Writer, window time.Duration, s *store.RunStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %s\n", window)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "In progress:\t%d\n", s.Running+s.Uploading)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailureRate()*100)
	_, _ = fmt.Fprintf(w, "Candidates uploaded:\t%d\n", s.CandidatesUploaded)
	_ = w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncateID shortens a UUID to its first 8 characters.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func ellipsis(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
