package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"copycat/types"
)

func parseJobIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid job id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *app) newCopyCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "copy <source path> <destination path>",
		Short: "Queue a copy from the source root into the destination root",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.apiClient()
			if err != nil {
				return err
			}

			if watch {
				// attach first so no update of the new job is missed
				return a.watch(cmd.Context(), client, watchOptions{
					exit: true,
					start: func(ctx context.Context) ([]int64, error) {
						job, err := client.StartCopy(ctx, args[0], args[1])
						if err != nil {
							return nil, err
						}
						return []int64{job.ID}, nil
					},
				})
			}

			job, err := client.StartCopy(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if a.jsonOutput(cmd) {
				return printJSON(a.out, job)
			}
			_, err = fmt.Fprintf(a.out, "queued job %d: %s -> %s\n", job.ID, job.SourcePath, job.DestinationPath)
			return err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "watch the job until it finishes")
	return cmd
}

func (a *app) newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List queued and running jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.apiClient()
			if err != nil {
				return err
			}
			jobs, err := client.Queue(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput(cmd) {
				return printJSON(a.out, jobs)
			}
			return printJobs(a.out, jobs)
		},
	}
}

func (a *app) newHistoryCmd() *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.apiClient()
			if err != nil {
				return err
			}
			jobs, err := client.History(cmd.Context(), page, limit)
			if err != nil {
				return err
			}
			if a.jsonOutput(cmd) {
				return printJSON(a.out, jobs)
			}
			return printJobs(a.out, jobs)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 50, "jobs per page")
	return cmd
}

func (a *app) newJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <job id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			client, err := a.apiClient()
			if err != nil {
				return err
			}

			job, err := client.Job(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			if a.jsonOutput(cmd) {
				return printJSON(a.out, job)
			}
			return printJob(a.out, job)
		},
	}
}

func (a *app) newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job id>...",
		Short: "Cancel queued or running jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			client, err := a.apiClient()
			if err != nil {
				return err
			}

			for _, id := range ids {
				out, err := client.CancelJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "job %d: %s\n", id, out.Message)
			}
			return nil
		},
	}
}

func (a *app) newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job id>",
		Short: "Queue a failed job again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			client, err := a.apiClient()
			if err != nil {
				return err
			}

			job, err := client.RetryJob(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			if a.jsonOutput(cmd) {
				return printJSON(a.out, job)
			}
			_, err = fmt.Fprintf(a.out, "job %d queued again as job %d\n", ids[0], job.ID)
			return err
		},
	}
}

func (a *app) newPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <job id> <low|normal|high>",
		Short: "Change the priority of a queued job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args[:1])
			if err != nil {
				return err
			}
			priority, err := parsePriority(args[1])
			if err != nil {
				return err
			}
			client, err := a.apiClient()
			if err != nil {
				return err
			}

			job, err := client.SetPriority(cmd.Context(), ids[0], priority)
			if err != nil {
				return err
			}
			if a.jsonOutput(cmd) {
				return printJSON(a.out, job)
			}
			_, err = fmt.Fprintf(a.out, "job %d priority set to %s\n", job.ID, args[1])
			return err
		},
	}
}

func parsePriority(s string) (int, error) {
	switch s {
	case "low", "0":
		return types.PriorityLow, nil
	case "normal", "1":
		return types.PriorityNormal, nil
	case "high", "2":
		return types.PriorityHigh, nil
	}
	return 0, fmt.Errorf("invalid priority %q, want low, normal or high", s)
}

func (a *app) newReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <job id>...",
		Short: "Reorder queued jobs, first id runs first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			client, err := a.apiClient()
			if err != nil {
				return err
			}

			out, err := client.Reorder(cmd.Context(), ids)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "reordered %d jobs\n", out.Reordered)
			return err
		},
	}
}

func (a *app) newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Cancel every queued and running job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.apiClient()
			if err != nil {
				return err
			}
			out, err := client.ClearQueue(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, out.Message)
			return err
		},
	}
}
