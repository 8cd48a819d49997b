package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"framewise/internal/api"
	"framewise/internal/history"
	"framewise/internal/queue"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var status, kind string
	var limit int
	var asJSON bool
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs from the history archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := api.HistoryQuery{Kind: kind, Limit: limit}
			if raw := strings.TrimSpace(status); raw != "" {
				parsed, ok := queue.ParseStatus(raw)
				if !ok || !parsed.IsTerminal() {
					return fmt.Errorf("status must be completed or failed, got %q", raw)
				}
				query.Status = parsed
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.History(cmd.Context(), query)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Entries)
				}
				if len(resp.Entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "History is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), historyTable(resp.Entries))
				return nil
			})
		},
	}
	historyCmd.Flags().StringVarP(&status, "status", "s", "", "Filter by terminal status")
	historyCmd.Flags().StringVar(&kind, "kind", "", "Filter by job kind")
	historyCmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entries")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON output")

	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryPruneCommand(ctx))
	return historyCmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one archived job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				entry, err := client.HistoryEntry(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, entry)
				}
				printJob(cmd.OutOrStdout(), entryAsJob(entry), shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON output")
	return cmd
}

// newHistoryPruneCommand opens the archive directly; sqlite WAL mode lets it
// run while the daemon is writing.
func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete archived jobs older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cmd.Context(), cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()
			removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d archived job(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove entries finished before now minus this duration")
	return cmd
}

func historyTable(entries []history.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.ID,
			entry.Kind,
			jobStatusLabel(entry.Status),
			formatTimestamp(entry.FinishedAt),
			formatDuration(entry.Duration),
		})
	}
	return renderTable([]string{"ID", "Kind", "Status", "Finished", "Duration"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
}

func entryAsJob(entry history.Entry) queue.Job {
	job := queue.Job{
		ID:        entry.ID,
		Kind:      entry.Kind,
		Class:     entry.Class,
		Payload:   entry.Payload,
		Status:    entry.Status,
		Result:    entry.Result,
		Error:     entry.Error,
		ErrorKind: entry.ErrorKind,
		QueuedAt:  entry.QueuedAt,
		StartedAt: entry.StartedAt,
	}
	finished := entry.FinishedAt
	if entry.Status == queue.StatusCompleted {
		job.CompletedAt = &finished
	} else {
		job.FailedAt = &finished
	}
	return job
}
