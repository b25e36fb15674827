package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/davidmoltin/ai-action-queue/internal/cli"
	"github.com/davidmoltin/ai-action-queue/internal/models"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the action queue",
}

var queueStatus string

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items in dequeue order",
	Long: `List the tenant's queue items, highest priority first.

Examples:
  aiq queue list
  aiq queue list --status pending`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		items, err := newClient().ListQueue(ctx, queueStatus)
		if err != nil {
			return fmt.Errorf("failed to list queue: %w", err)
		}
		return printQueueItems(cmd.OutOrStdout(), items)
	},
}

var queueDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		items, err := newClient().ListDLQ(ctx)
		if err != nil {
			return fmt.Errorf("failed to list dead letter queue: %w", err)
		}
		return printQueueItems(cmd.OutOrStdout(), items)
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue-wide counters (requires queue:admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		stats, err := newClient().QueueStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get queue stats: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, stats)
		}

		fmt.Fprintf(out, "Pending:       %d\n", stats.PendingCount)
		fmt.Fprintf(out, "Processing:    %d\n", stats.ProcessingCount)
		fmt.Fprintf(out, "Completed:     %d\n", stats.CompletedCount)
		fmt.Fprintf(out, "Failed:        %d\n", stats.FailedCount)
		fmt.Fprintf(out, "Dead-lettered: %d\n", stats.DLQCount)
		if len(stats.ByPriority) > 0 {
			fmt.Fprintln(out, "\nPending by priority:")
			priorities := make([]string, 0, len(stats.ByPriority))
			for p := range stats.ByPriority {
				priorities = append(priorities, p)
			}
			sort.Slice(priorities, func(i, j int) bool {
				return models.Priority(priorities[i]).Rank() > models.Priority(priorities[j]).Rank()
			})
			for _, p := range priorities {
				fmt.Fprintf(out, "  %-9s %d\n", p, stats.ByPriority[p])
			}
		}
		return nil
	},
}

func queueTransition(use, short, done, unchanged string, call func(c *cli.Client, cmd *cobra.Command, id string) (bool, error)) *cobra.Command {
	cmd := scheduleTransition(use, short, done, unchanged, call)
	cmd.Use = use + " <item-id>"
	return cmd
}

func printQueueItems(out io.Writer, items []models.QueueItem) error {
	if outputJSON {
		return printJSON(out, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return nil
	}

	tw := newTable(out, "ID", "ACTION", "ENTITY", "PRIORITY", "STATUS", "ATTEMPTS", "ERROR")
	for _, item := range items {
		errMsg := "-"
		if item.Error != nil {
			errMsg = truncate(*item.Error, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s:%s\t%s\t%s\t%d/%d\t%s\n",
			item.ID, item.Action, item.EntityType, truncate(item.EntityID, 24), item.Priority, item.Status,
			item.Attempts, item.MaxAttempts, errMsg)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(queueCmd)

	queueListCmd.Flags().StringVar(&queueStatus, "status", "", "Filter by status (pending, dead_lettered)")

	queueCmd.AddCommand(
		queueListCmd,
		queueDLQCmd,
		queueStatsCmd,
		queueTransition("retry", "Retry a failed or dead-lettered item", "Item returned to pending", "Item was not failed or dead-lettered",
			func(c *cli.Client, cmd *cobra.Command, id string) (bool, error) {
				ctx, cancel := commandContext(cmd)
				defer cancel()
				return c.RetryItem(ctx, id)
			}),
		queueTransition("requeue", "Requeue a dead-lettered item with fresh attempts", "Item requeued", "Item was not dead-lettered",
			func(c *cli.Client, cmd *cobra.Command, id string) (bool, error) {
				ctx, cancel := commandContext(cmd)
				defer cancel()
				return c.RequeueItem(ctx, id)
			}),
	)
}
