package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/service"
	"github.com/ldi/stageflow/pkg/models"
)

type taskFlags struct {
	workflow string
	status   string
	priority string
	assignee string
	term     string
	open     bool
	overdue  bool
	page     int
	pageSize int
}

func newTasksCmd(a *app) *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks with their derived status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, database, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			page := models.PageRequest{Page: f.page, PageSize: f.pageSize}
			var result models.Page[*models.Task]
			if f.overdue {
				result, err = svc.OverdueTasks(ctx, page)
			} else {
				var filter db.TaskFilter
				if filter, err = f.filter(cmd, svc); err != nil {
					return err
				}
				result, err = svc.FindTasks(ctx, filter, page)
			}
			if err != nil {
				return err
			}

			if a.output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			printTasks(cmd.OutOrStdout(), result)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.workflow, "workflow", "", "filter by workflow name")
	flags.StringVar(&f.status, "status", "", "filter by status (pending, in_progress, on_hold, cancelled, completed)")
	flags.StringVar(&f.priority, "priority", "", "filter by priority (low, medium, high, urgent)")
	flags.StringVar(&f.assignee, "assignee", "", "filter by assignee username")
	flags.StringVarP(&f.term, "query", "q", "", "match title or description")
	flags.BoolVar(&f.open, "open", false, "only tasks not on a final stage")
	flags.BoolVar(&f.overdue, "overdue", false, "only tasks past their due date (other filters are ignored)")
	flags.IntVar(&f.page, "page", 1, "page number")
	flags.IntVar(&f.pageSize, "page-size", 0, "page size (defaults to config)")
	return cmd
}

func (f *taskFlags) filter(cmd *cobra.Command, svc *service.Service) (db.TaskFilter, error) {
	ctx := cmd.Context()
	filter := db.TaskFilter{Term: f.term, OpenOnly: f.open}

	if f.workflow != "" {
		w, err := svc.GetWorkflowByName(ctx, f.workflow)
		if err != nil {
			return filter, err
		}
		filter.WorkflowID = &w.ID
	}
	if f.assignee != "" {
		u, err := svc.GetUserByUsername(ctx, f.assignee)
		if err != nil {
			return filter, err
		}
		filter.AssigneeID = &u.ID
	}
	if f.status != "" {
		c, err := models.ParseCategory(f.status)
		if err != nil {
			return filter, sferrors.Newf(sferrors.ErrInvalidInput, "%v", err)
		}
		filter.Status = &c
	}
	if f.priority != "" {
		p, err := models.ParsePriority(f.priority)
		if err != nil {
			return filter, sferrors.Newf(sferrors.ErrInvalidInput, "%v", err)
		}
		filter.Priority = &p
	}
	return filter, nil
}

func printTasks(w io.Writer, page models.Page[*models.Task]) {
	fmt.Fprintf(w, "%-30s %-15s %-15s %-8s %-12s %-10s\n", "TITLE", "WORKFLOW", "STAGE", "PRIORITY", "STATUS", "DUE")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------------")
	for _, t := range page.Items {
		stage := "-"
		if t.Stage != nil {
			stage = t.Stage.Name
		}
		fmt.Fprintf(w, "%-30s %-15s %-15s %-8s %-12s %-10s\n",
			truncate(t.Title, 30), truncate(t.WorkflowName, 15), truncate(stage, 15), t.Priority, t.Status, formatDate(t.DueDate))
	}
	fmt.Fprintf(w, "\nPage %d of %d (%d tasks)\n", page.Page, max(page.TotalPages, 1), page.Total)
}
