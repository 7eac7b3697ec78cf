package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/internal/storage"
	"github.com/cuongbtq/jobqueue/migrations"
	"github.com/cuongbtq/jobqueue/shared/postgresql"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}

			version, err := postgresql.Migrate(a.cfg.Database.PostgresConfig(), migrations.FS, a.logger.Logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "schema at version %d\n", version)
			return nil
		},
	}
}

func seedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Enqueue the 20-job demo fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}

			ids, err := store.InsertJobs(cmd.Context(), domain.SeedJobs())
			if err != nil {
				return fmt.Errorf("failed to seed jobs: %w", err)
			}
			fmt.Fprintf(out(cmd), "enqueued %d jobs: %v\n", len(ids), ids)
			return nil
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var (
		status   string
		afterID  int64
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in id order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pageSize <= 0 {
				return fmt.Errorf("--limit must be greater than 0")
			}
			filter := storage.JobFilter{AfterID: afterID, PageSize: pageSize}
			if status != "" {
				s, err := domain.ParseJobStatus(status)
				if err != nil {
					return err
				}
				filter.Status = s
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}

			jobs, err := store.ListJobs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			more := len(jobs) > pageSize
			if more {
				jobs = jobs[:pageSize]
			}

			tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPAYLOAD\tPARAMS\tLAST ERROR")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", j.ID, j.Status, payloadText(j), paramsText(j), orDash([]byte(j.LastError)))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if more {
				fmt.Fprintf(out(cmd), "more jobs after id %d (--after %d)\n", jobs[len(jobs)-1].ID, jobs[len(jobs)-1].ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only jobs with this status (Queued, Running, Failed)")
	cmd.Flags().Int64Var(&afterID, "after", 0, "Start after this job id")
	cmd.Flags().IntVar(&pageSize, "limit", 50, "Maximum number of jobs to print")
	return cmd
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}

			counts, err := store.CountByStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to count jobs: %w", err)
			}

			tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			total := 0
			for _, s := range domain.AllStatuses {
				fmt.Fprintf(tw, "%s\t%d\n", s, counts[s])
				total += counts[s]
			}
			fmt.Fprintf(tw, "Total\t%d\n", total)
			return tw.Flush()
		},
	}
}

func failCmd(a *app) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <job-id>",
		Short: "Mark a running job as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}

			if err := store.MarkJobFailed(cmd.Context(), id, reason); err != nil {
				return fmt.Errorf("job %d: %w", id, err)
			}
			fmt.Fprintf(out(cmd), "job %d marked Failed\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason recorded on the job")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func orDash(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	return string(b)
}

func payloadText(j domain.Job) string {
	if j.RawPayload == nil && j.Payload != nil {
		b, _ := domain.EncodePayload(j.Payload)
		return orDash(b)
	}
	return orDash(j.RawPayload)
}

func paramsText(j domain.Job) string {
	if j.RawParams == nil && j.Params != nil {
		b, _ := domain.EncodeParams(j.Params)
		return orDash(b)
	}
	return orDash(j.RawParams)
}
