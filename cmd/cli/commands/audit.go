package commands

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read the AI action audit log",
}

var (
	auditAction   string
	auditEntityID string
	auditOutcome  string
	auditSince    string
	auditLimit    int
	auditOffset   int
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	Long: `List the tenant's audit entries, newest first.

Examples:
  aiq audit list
  aiq audit list --outcome dead_lettered
  aiq audit list --action ai_auto_assign --since 2026-01-01T00:00:00Z --limit 100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		filter := url.Values{}
		if auditAction != "" {
			filter.Set("action", auditAction)
		}
		if auditEntityID != "" {
			filter.Set("entity_id", auditEntityID)
		}
		if auditOutcome != "" {
			filter.Set("outcome", auditOutcome)
		}
		if auditSince != "" {
			filter.Set("since", auditSince)
		}
		filter.Set("limit", strconv.Itoa(auditLimit))
		if auditOffset > 0 {
			filter.Set("offset", strconv.Itoa(auditOffset))
		}

		entries, err := newClient().ListAudit(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list audit log: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No audit entries found")
			return nil
		}

		tw := newTable(out, "TIME", "ACTION", "ENTITY", "OUTCOME", "CONFIDENCE", "APPROVAL", "ACTOR")
		for _, e := range entries {
			confidence := "-"
			if e.Confidence != nil {
				confidence = fmt.Sprintf("%.2f", *e.Confidence)
			}
			approval := "-"
			if e.RequiresApproval {
				approval = "required"
			}
			ts := e.Timestamp
			fmt.Fprintf(tw, "%s\t%s\t%s:%s\t%s\t%s\t%s\t%s\n",
				formatTime(&ts), e.Action, e.EntityType, truncate(e.EntityID, 24), e.Outcome, confidence, approval, e.Actor)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditListCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action type")
	auditListCmd.Flags().StringVar(&auditEntityID, "entity-id", "", "Filter by entity ID")
	auditListCmd.Flags().StringVar(&auditOutcome, "outcome", "", "Filter by outcome")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Only entries at or after this RFC3339 time")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum entries to show")
	auditListCmd.Flags().IntVar(&auditOffset, "offset", 0, "Entries to skip")

	auditCmd.AddCommand(auditListCmd)
}
