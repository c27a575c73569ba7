package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ldi/stageflow/pkg/models"
)

func newStatsCmd(a *app) *cobra.Command {
	var workflow string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show task counts by status and priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, database, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			out := cmd.OutOrStdout()
			if workflow != "" {
				w, err := svc.GetWorkflowByName(ctx, workflow)
				if err != nil {
					return err
				}
				stats, err := svc.WorkflowStatistics(ctx, w.ID)
				if err != nil {
					return err
				}
				counts, err := svc.CountByStatus(ctx, &w.ID)
				if err != nil {
					return err
				}
				if a.output == OutputJSON {
					return writeJSON(out, map[string]any{"workflow": stats, "by_status": counts})
				}
				fmt.Fprintf(out, "Workflow %s\n", w.Name)
				fmt.Fprintln(out, "=====================")
				fmt.Fprintf(out, "Total Tasks:     %d\n", stats.Total)
				fmt.Fprintf(out, "Completed:       %d\n", stats.Completed)
				fmt.Fprintf(out, "In Progress:     %d\n", stats.InProgress)
				fmt.Fprintf(out, "Pending:         %d\n", stats.Pending)
				printStatusCounts(out, counts)
				return nil
			}

			ov, err := svc.Overview(ctx)
			if err != nil {
				return err
			}
			if a.output == OutputJSON {
				return writeJSON(out, ov)
			}
			fmt.Fprintln(out, "Stageflow Status")
			fmt.Fprintln(out, "=====================")
			fmt.Fprintf(out, "Workflows:       %d (%d active)\n", ov.Workflows, ov.ActiveWorkflows)
			fmt.Fprintf(out, "Total Tasks:     %d\n", ov.Tasks)
			fmt.Fprintf(out, "Overdue Tasks:   %d\n", ov.Overdue)
			fmt.Fprintf(out, "Users:           %d\n", ov.Users)
			fmt.Fprintf(out, "Departments:     %d\n", ov.Departments)
			fmt.Fprintf(out, "Teams:           %d\n", ov.Teams)
			printStatusCounts(out, ov.ByStatus)

			fmt.Fprintln(out, "\nBy Priority:")
			for _, p := range []models.Priority{models.PriorityUrgent, models.PriorityHigh, models.PriorityMedium, models.PriorityLow} {
				fmt.Fprintf(out, "  %-12s %d\n", p+":", ov.ByPriority[p])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workflow, "workflow", "", "limit to one workflow")
	return cmd
}

func printStatusCounts(w io.Writer, counts models.StatusCounts) {
	fmt.Fprintln(w, "\nTask Breakdown:")
	for _, c := range models.Categories() {
		fmt.Fprintf(w, "  %-12s %d\n", string(c)+":", counts[c])
	}
}
