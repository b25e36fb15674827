package commands

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidmoltin/ai-action-queue/internal/cli"
	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
)

var schedulesCmd = &cobra.Command{
	Use:     "schedules",
	Aliases: []string{"schedule", "sched"},
	Short:   "Manage scheduled AI actions",
}

var (
	scheduleStatus     string
	scheduleAction     string
	scheduleEntityType string
	scheduleEntityID   string
)

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled actions",
	Long: `List the tenant's scheduled actions, oldest first.

Examples:
  aiq schedules list
  aiq schedules list --status paused
  aiq schedules list --entity-type lead --entity-id L-42 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		filter := url.Values{}
		for key, value := range map[string]string{
			"status":      scheduleStatus,
			"action":      scheduleAction,
			"entity_type": scheduleEntityType,
			"entity_id":   scheduleEntityID,
		} {
			if value != "" {
				filter.Set(key, value)
			}
		}

		schedules, err := newClient().ListSchedules(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list schedules: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, schedules)
		}
		if len(schedules) == 0 {
			fmt.Fprintln(out, "No scheduled actions found")
			return nil
		}

		tw := newTable(out, "ID", "ACTION", "ENTITY", "STATUS", "RUNS", "NEXT RUN")
		for _, s := range schedules {
			runs := fmt.Sprintf("%d", s.ExecutionCount)
			if s.MaxExecutions != nil {
				runs = fmt.Sprintf("%d/%d", s.ExecutionCount, *s.MaxExecutions)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s:%s\t%s\t%s\t%s\n",
				s.ID, s.Action, s.EntityType, truncate(s.EntityID, 24), s.Status, runs, formatTime(s.NextRunAt))
		}
		return tw.Flush()
	},
}

var (
	scheduleFile     string
	scheduleParams   string
	schedulePriority string
	scheduleAt       string
	scheduleIn       time.Duration
	scheduleCron     string
	scheduleMaxRuns  int
	scheduleDryRun   bool
)

var schedulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Schedule an AI action",
	Long: `Schedule an AI action from a JSON or YAML file, or from flags.

Examples:
  aiq schedules create -f follow-up.yaml
  aiq schedules create --action ai_score_lead --entity-type lead --entity-id L-42 --in 1h
  aiq schedules create --action ai_detect_stale --entity-type opportunity --entity-id O-7 \
      --cron "0 9 * * 1-5" --params '{"days_inactive": 14}'
  aiq schedules create -f follow-up.yaml --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := scheduleRequestFromFlags()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		result := cli.ValidateSchedule(req, engine.NewDefaultRegistry())
		if !result.Valid {
			if outputJSON {
				_ = printJSON(out, result)
			} else {
				for _, e := range result.Errors {
					fmt.Fprintln(cmd.ErrOrStderr(), "  -", e)
				}
			}
			return fmt.Errorf("schedule request is invalid")
		}
		if scheduleDryRun {
			if outputJSON {
				return printJSON(out, result)
			}
			fmt.Fprintln(out, "Schedule request is valid")
			return nil
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		action, err := newClient().CreateSchedule(ctx, *req)
		if err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}
		if outputJSON {
			return printJSON(out, action)
		}
		fmt.Fprintf(out, "Scheduled %s for %s:%s\n", action.Action, action.EntityType, action.EntityID)
		fmt.Fprintf(out, "  ID:       %s\n", action.ID)
		fmt.Fprintf(out, "  Next run: %s\n", formatTime(action.NextRunAt))
		return nil
	},
}

func scheduleRequestFromFlags() (*models.ScheduleRequest, error) {
	req := &models.ScheduleRequest{}
	if scheduleFile != "" {
		loaded, err := cli.LoadScheduleFile(scheduleFile)
		if err != nil {
			return nil, err
		}
		req = loaded
	}

	if scheduleAction != "" {
		req.Action = models.ActionType(scheduleAction)
	}
	if scheduleEntityType != "" {
		req.EntityType = models.EntityType(scheduleEntityType)
	}
	if scheduleEntityID != "" {
		req.EntityID = scheduleEntityID
	}
	if schedulePriority != "" {
		req.Priority = models.Priority(schedulePriority)
	}
	if scheduleParams != "" {
		var params models.JSONB
		if err := json.Unmarshal([]byte(scheduleParams), &params); err != nil {
			return nil, fmt.Errorf("invalid --params: %w", err)
		}
		req.Params = params
	}
	if scheduleMaxRuns > 0 {
		n := scheduleMaxRuns
		req.MaxExecutions = &n
	}

	switch {
	case scheduleAt != "":
		at, err := time.Parse(time.RFC3339, scheduleAt)
		if err != nil {
			return nil, fmt.Errorf("invalid --at, want RFC3339: %w", err)
		}
		req.ScheduledAt = &at
	case scheduleIn > 0:
		at := time.Now().Add(scheduleIn).UTC()
		req.ScheduledAt = &at
	}
	if scheduleCron != "" {
		req.RecurringPattern = &models.RecurringPattern{Type: models.RecurrenceCron, CronExpression: scheduleCron}
	}

	return req, nil
}

func scheduleTransition(use, short, done, unchanged string, call func(c *cli.Client, cmd *cobra.Command, id string) (bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <schedule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed, err := call(newClient(), cmd, args[0])
			if err != nil {
				return fmt.Errorf("failed to %s schedule: %w", use, err)
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"changed": changed})
			}
			reportChange(cmd.OutOrStdout(), changed, done, unchanged)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(schedulesCmd)

	schedulesListCmd.Flags().StringVar(&scheduleStatus, "status", "", "Filter by status (active, paused, completed, cancelled)")
	schedulesListCmd.Flags().StringVar(&scheduleAction, "action", "", "Filter by action type")
	schedulesListCmd.Flags().StringVar(&scheduleEntityType, "entity-type", "", "Filter by entity type")
	schedulesListCmd.Flags().StringVar(&scheduleEntityID, "entity-id", "", "Filter by entity ID")

	schedulesCreateCmd.Flags().StringVarP(&scheduleFile, "file", "f", "", "JSON or YAML schedule request")
	schedulesCreateCmd.Flags().StringVar(&scheduleAction, "action", "", "Action type, e.g. ai_score_lead")
	schedulesCreateCmd.Flags().StringVar(&scheduleEntityType, "entity-type", "", "Entity type (lead, opportunity, customer)")
	schedulesCreateCmd.Flags().StringVar(&scheduleEntityID, "entity-id", "", "Entity ID")
	schedulesCreateCmd.Flags().StringVar(&scheduleParams, "params", "", "Action params as a JSON object")
	schedulesCreateCmd.Flags().StringVar(&schedulePriority, "priority", "", "Priority (low, normal, high, critical)")
	schedulesCreateCmd.Flags().StringVar(&scheduleAt, "at", "", "Run once at this RFC3339 time")
	schedulesCreateCmd.Flags().DurationVar(&scheduleIn, "in", 0, "Run once after this delay")
	schedulesCreateCmd.Flags().StringVar(&scheduleCron, "cron", "", "Recurring cron expression")
	schedulesCreateCmd.Flags().IntVar(&scheduleMaxRuns, "max-runs", 0, "Stop after this many executions")
	schedulesCreateCmd.Flags().BoolVar(&scheduleDryRun, "dry-run", false, "Validate locally without creating")

	schedulesCmd.AddCommand(
		schedulesListCmd,
		schedulesCreateCmd,
		scheduleTransition("pause", "Pause an active scheduled action", "Schedule paused", "Schedule was not active",
			func(c *cli.Client, cmd *cobra.Command, id string) (bool, error) {
				ctx, cancel := commandContext(cmd)
				defer cancel()
				return c.PauseSchedule(ctx, id)
			}),
		scheduleTransition("resume", "Resume a paused scheduled action", "Schedule resumed", "Schedule was not paused",
			func(c *cli.Client, cmd *cobra.Command, id string) (bool, error) {
				ctx, cancel := commandContext(cmd)
				defer cancel()
				return c.ResumeSchedule(ctx, id)
			}),
		scheduleTransition("cancel", "Cancel a scheduled action", "Schedule cancelled", "Schedule was already finished",
			func(c *cli.Client, cmd *cobra.Command, id string) (bool, error) {
				ctx, cancel := commandContext(cmd)
				defer cancel()
				return c.CancelSchedule(ctx, id)
			}),
	)
}
