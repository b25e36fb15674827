package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidmoltin/ai-action-queue/internal/api/rest/handlers"
	"github.com/davidmoltin/ai-action-queue/internal/models"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List and run AI actions",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered actions and their policies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		defs, err := newClient().ListActions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list actions: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, defs)
		}

		tw := newTable(out, "ACTION", "ENTITIES", "READ-ONLY", "APPROVAL", "DESCRIPTION")
		for _, d := range defs {
			entities := make([]string, len(d.EntityTypes))
			for i, et := range d.EntityTypes {
				entities[i] = string(et)
			}
			approval := "on low confidence"
			if d.ReadOnly {
				approval = "never"
			} else if d.Policy.RequiresApprovalByDefault {
				approval = "always"
			}
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
				d.Type, strings.Join(entities, ","), d.ReadOnly, approval, truncate(d.Description, 60))
		}
		return tw.Flush()
	},
}

var (
	executeEntityType string
	executeEntityID   string
	executeParams     string
	executeEntity     string
)

var actionsExecuteCmd = &cobra.Command{
	Use:   "execute <action>",
	Short: "Run an action immediately",
	Long: `Run an action immediately, bypassing the queue. The result is audited.

Examples:
  aiq actions execute ai_score_lead --entity-type lead --entity-id L-42
  aiq actions execute ai_auto_assign --entity-type lead --entity-id L-42 \
      --params '{"candidates": ["u1", "u2"]}' --entity '{"region": "emea"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := handlers.ExecuteRequest{
			EntityType: models.EntityType(executeEntityType),
			EntityID:   executeEntityID,
		}
		if executeParams != "" {
			if err := json.Unmarshal([]byte(executeParams), &req.Params); err != nil {
				return fmt.Errorf("invalid --params: %w", err)
			}
		}
		if executeEntity != "" {
			if err := json.Unmarshal([]byte(executeEntity), &req.Entity); err != nil {
				return fmt.Errorf("invalid --entity: %w", err)
			}
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		result, err := newClient().ExecuteAction(ctx, models.ActionType(args[0]), req)
		if err != nil {
			return fmt.Errorf("failed to execute action: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, result)
		}

		fmt.Fprintf(out, "Status:     %s\n", result.Status)
		if result.Confidence != nil {
			fmt.Fprintf(out, "Confidence: %.2f\n", *result.Confidence)
		}
		fmt.Fprintf(out, "Approval:   %t\n", result.RequiresApproval)
		if result.Summary != "" {
			fmt.Fprintf(out, "Summary:    %s\n", result.Summary)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(out, "Error:      %s\n", e)
		}
		if result.AuditEntryID != "" {
			fmt.Fprintf(out, "Audit ID:   %s\n", result.AuditEntryID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(actionsCmd)

	actionsExecuteCmd.Flags().StringVar(&executeEntityType, "entity-type", "lead", "Entity type (lead, opportunity, customer)")
	actionsExecuteCmd.Flags().StringVar(&executeEntityID, "entity-id", "", "Entity ID")
	actionsExecuteCmd.Flags().StringVar(&executeParams, "params", "", "Action params as a JSON object")
	actionsExecuteCmd.Flags().StringVar(&executeEntity, "entity", "", "Entity snapshot as a JSON object")
	_ = actionsExecuteCmd.MarkFlagRequired("entity-id")

	actionsCmd.AddCommand(actionsListCmd, actionsExecuteCmd)
}
