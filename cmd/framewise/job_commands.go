package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"framewise/internal/api"
	"framewise/internal/config"
	"framewise/internal/ingest"
	"framewise/internal/queue"
)

type submitFlags struct {
	id       string
	wait     bool
	timeout  time.Duration
	interval time.Duration
	json     bool
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "Job id to use instead of a generated one")
	cmd.Flags().BoolVarP(&f.wait, "wait", "w", false, "Wait for the job to finish and print its result")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
	cmd.Flags().DurationVar(&f.interval, "poll", time.Second, "Polling interval while waiting")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print JSON output")
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags
	cmd := &cobra.Command{
		Use:   "submit <source>",
		Short: "Submit a video for processing",
		Long:  "Submit a local file, http(s) URL, or s3://bucket/key video as a media-processing job.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := resolveSource(args[0])
			if err != nil {
				return err
			}
			payload, err := json.Marshal(map[string]string{"source": source})
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				return submitJob(cmd, client, config.KindMediaProcess, payload, flags)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags
	cmd := &cobra.Command{
		Use:   "enqueue <kind> [payload-json]",
		Short: "Enqueue a job of any registered kind",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage("{}")
			if len(args) == 2 {
				raw := strings.TrimSpace(args[1])
				if raw == "-" {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("read payload: %w", err)
					}
					raw = strings.TrimSpace(string(data))
				}
				if !json.Valid([]byte(raw)) {
					return errors.New("payload must be valid JSON")
				}
				payload = json.RawMessage(raw)
			}
			return ctx.withClient(func(client *api.Client) error {
				return submitJob(cmd, client, strings.TrimSpace(args[0]), payload, flags)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func submitJob(cmd *cobra.Command, client *api.Client, kind string, payload json.RawMessage, flags submitFlags) error {
	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = context.Background()
	}
	id, err := client.Submit(runCtx, api.SubmitRequest{ID: strings.TrimSpace(flags.id), Kind: kind, Payload: payload})
	if err != nil {
		return err
	}
	if !flags.wait {
		if flags.json {
			return writeJSON(cmd, api.SubmitResponse{ID: id})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s (%s)\n", id, kind)
		return nil
	}

	if flags.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, flags.timeout)
		defer cancel()
	}
	job, err := client.WaitForTerminal(runCtx, id, flags.interval)
	if err != nil {
		return fmt.Errorf("wait for job %s: %w", id, err)
	}
	if flags.json {
		if err := writeJSON(cmd, job); err != nil {
			return err
		}
	} else {
		printJob(cmd.OutOrStdout(), job, shouldColorize(cmd.OutOrStdout()))
	}
	if job.Status == queue.StatusFailed {
		return fmt.Errorf("job %s failed", id)
	}
	return nil
}

// resolveSource makes local paths absolute so the daemon resolves them the
// same way regardless of the CLI's working directory.
func resolveSource(source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", errors.New("source is required")
	}
	if ingest.Classify(source) != ingest.SourceLocal {
		return source, nil
	}
	expanded, err := config.ExpandPath(source)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show daemon status, or one job's status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				if len(args) == 1 {
					job, err := client.Job(cmd.Context(), strings.TrimSpace(args[0]))
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, job)
					}
					printJob(out, job, colorize)
					return nil
				}

				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				for _, line := range daemonStatusLines(status, colorize) {
					fmt.Fprintln(out, line)
				}
				if len(status.Pools) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, poolTable(status))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON output")
	return cmd
}

func daemonStatusLines(status api.DaemonStatus, colorize bool) []string {
	lines := renderSectionHeader("Daemon", colorize)
	if status.Running {
		detail := fmt.Sprintf("Running (pid %d)", status.PID)
		if status.StartedAt != nil {
			detail += ", since " + formatTimestamp(*status.StartedAt)
		}
		lines = append(lines, renderStatusLine("Framewise", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Framewise", statusError, "Not running", colorize))
	}
	jobs := status.Jobs
	lines = append(lines, renderStatusLine("Jobs", statusInfo,
		fmt.Sprintf("%d total, %d queued, %d processing, %d completed, %d failed",
			jobs.Total, jobs.Queued, jobs.Processing, jobs.Completed, jobs.Failed), colorize))
	if len(status.Kinds) > 0 {
		lines = append(lines, renderStatusLine("Kinds", statusInfo, strings.Join(status.Kinds, ", "), colorize))
	}
	if status.HistoryPath != "" {
		lines = append(lines, renderStatusLine("History", statusInfo, status.HistoryPath, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	for _, dep := range status.Dependencies {
		switch {
		case dep.Available:
			lines = append(lines, renderStatusLine(dep.Name, statusOK, "Ready ("+dep.Path+")", colorize))
		case dep.Optional:
			lines = append(lines, renderStatusLine(dep.Name, statusWarn, dep.Detail, colorize))
		default:
			lines = append(lines, renderStatusLine(dep.Name, statusError, dep.Detail, colorize))
		}
	}
	return lines
}

func poolTable(status api.DaemonStatus) string {
	rows := make([][]string, 0, len(status.Pools))
	for _, pool := range status.Pools {
		rows = append(rows, []string{
			pool.Class,
			fmt.Sprintf("%d", pool.Concurrency),
			fmt.Sprintf("%d", pool.Active),
			fmt.Sprintf("%d", pool.Pending),
		})
	}
	return renderTable([]string{"Class", "Workers", "Active", "Pending"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight})
}

func printJob(out io.Writer, job queue.Job, colorize bool) {
	fmt.Fprintln(out, renderStatusLine("Job", jobStatusKind(job.Status), job.ID+" "+jobStatusLabel(job.Status), colorize))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Kind:", job.Kind)
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Class:", job.Class)
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Queued:", formatTimestamp(job.QueuedAt))
	if job.StartedAt != nil {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Duration:", formatDuration(job.Duration(time.Now())))
	}
	if job.Error != "" {
		fmt.Fprintf(out, "%s%-*s %s (%s)\n", statusIndent, statusLabelWidth, "Error:", job.Error, job.ErrorKind)
	}
	if len(job.Result) > 0 {
		fmt.Fprintf(out, "%s%-*s\n", statusIndent, statusLabelWidth, "Result:")
		var pretty any
		if err := json.Unmarshal(job.Result, &pretty); err == nil {
			if data, err := json.MarshalIndent(pretty, statusIndent, "  "); err == nil {
				fmt.Fprintf(out, "%s%s\n", statusIndent, data)
				return
			}
		}
		fmt.Fprintf(out, "%s%s\n", statusIndent, job.Result)
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var kind, class string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List live jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := api.JobQuery{Kind: kind, Class: class, Limit: limit}
			for _, raw := range statuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				query.Statuses = append(query.Statuses, status)
			}
			return ctx.withClient(func(client *api.Client) error {
				jobs, err := client.Jobs(cmd.Context(), query)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), jobsTable(jobs, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by job kind")
	cmd.Flags().StringVar(&class, "class", "", "Filter by queue class")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON output")
	return cmd
}

func jobsTable(jobs []queue.Job, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.Kind,
			job.Class,
			jobStatusLabel(job.Status),
			formatTimestamp(job.QueuedAt),
			formatDuration(job.Duration(now)),
		})
	}
	return renderTable([]string{"ID", "Kind", "Class", "Status", "Queued", "Duration"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
}
