package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/docscan/internal/bootstrap"
	"github.com/kirillkom/docscan/internal/core/domain"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and drive OCR jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get JOB_ID",
	Short: "Print a job record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsRequeueCmd = &cobra.Command{
	Use:   "requeue [JOB_ID...]",
	Short: "Re-dispatch pending tasks",
	Long:  "Re-dispatches the pending task of the given jobs. With --stale, requeues every QUEUED_NO_WORKER job of the tenant.",
	RunE:  runJobsRequeue,
}

var jobsRerunCmd = &cobra.Command{
	Use:   "rerun JOB_ID",
	Short: "Rerun a finished or failed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRerun,
}

var (
	jobsTenant      string
	jobsLimit       int
	jobsJSON        bool
	jobsStale       bool
	jobsParallelism int64
	jobsRerunMode   string
)

func init() {
	jobsCmd.PersistentFlags().StringVarP(&jobsTenant, "tenant", "t", "default", "Tenant id (empty lists every tenant)")
	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 50, "Maximum jobs to list")
	jobsListCmd.Flags().BoolVar(&jobsJSON, "json", false, "Print JSON instead of a table")
	jobsRequeueCmd.Flags().BoolVar(&jobsStale, "stale", false, "Requeue every QUEUED_NO_WORKER job")
	jobsRequeueCmd.Flags().Int64Var(&jobsParallelism, "parallel", 4, "Concurrent dispatches")
	jobsRerunCmd.Flags().StringVar(&jobsRerunMode, "mode", string(domain.RerunFull), "Rerun mode: full or recognize")

	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsRequeueCmd, jobsRerunCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	repo, db, err := bootstrap.OpenRepository(cmd.Context(), cliConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := repo.List(cmd.Context(), jobsTenant, jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if jobsJSON {
		return writeJSON(cmd.OutOrStdout(), jobs)
	}
	return writeJobTable(cmd.OutOrStdout(), jobs)
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	repo, db, err := bootstrap.OpenRepository(cmd.Context(), cliConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := repo.GetByID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), job)
}

func runJobsRequeue(cmd *cobra.Command, args []string) error {
	if !jobsStale && len(args) == 0 {
		return fmt.Errorf("pass job ids or --stale")
	}

	ctx := cmd.Context()
	app, err := bootstrap.New(ctx, cliConfig, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	ids := args
	if jobsStale {
		stale, err := app.Jobs.List(ctx, jobsTenant, 500)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		for _, job := range stale {
			if job.Status == domain.StatusQueuedNoWorker {
				ids = append(ids, job.ID)
			}
		}
	}

	outcomes := requeueAll(ctx, ids, jobsParallelism, func(ctx context.Context, id string) (*domain.IntentOutcome, error) {
		return app.JobsUC.Requeue(ctx, jobsTenant, id)
	})

	failed := 0
	for _, res := range outcomes {
		if res.err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "%s\terror: %v\n", res.jobID, res.err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tqueued=%t\n", res.jobID, res.outcome.Status, res.outcome.WorkerQueued)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requeues failed", failed, len(outcomes))
	}
	return nil
}

func runJobsRerun(cmd *cobra.Command, args []string) error {
	mode, err := domain.ParseRerunMode(jobsRerunMode)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := bootstrap.New(ctx, cliConfig, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	outcome, err := app.JobsUC.Rerun(ctx, jobsTenant, args[0], mode)
	if err != nil {
		return fmt.Errorf("rerun job: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), outcome)
}

type requeueResult struct {
	jobID   string
	outcome *domain.IntentOutcome
	err     error
}

// requeueAll runs fn for every id with at most parallel calls in flight, keeping input order.
func requeueAll(
	ctx context.Context,
	ids []string,
	parallel int64,
	fn func(context.Context, string) (*domain.IntentOutcome, error),
) []requeueResult {
	if parallel <= 0 {
		parallel = 1
	}
	sem := semaphore.NewWeighted(parallel)
	results := make([]requeueResult, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		results[i].jobID = id
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].err = err
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			outcome, err := fn(ctx, id)
			results[i].outcome, results[i].err = outcome, err
			if err != nil {
				slog.Warn("requeue_failed", "job_id", id, "error", err)
			}
		}()
	}
	wg.Wait()
	return results
}

func writeJobTable(w io.Writer, jobs []domain.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tTENANT\tSTATUS\tGEN\tPROGRESS\tUPDATED")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d%%\t%s\n",
			job.ID, job.TenantID, job.Status, job.Generation, job.Progress, job.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
