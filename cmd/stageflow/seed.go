package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

// seedDoc is the YAML layout accepted by the seed command. References
// between records are by name.
type seedDoc struct {
	Departments []seedDepartment `yaml:"departments"`
	Teams       []seedTeam       `yaml:"teams"`
	Roles       []seedRole       `yaml:"roles"`
	Users       []seedUser       `yaml:"users"`
	Workflows   []seedWorkflow   `yaml:"workflows"`
	Tasks       []seedTask       `yaml:"tasks"`
}

type seedDepartment struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type seedTeam struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Department  string `yaml:"department"`
}

type seedRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Level       int      `yaml:"level"`
	Permissions []string `yaml:"permissions"`
}

type seedUser struct {
	Username  string   `yaml:"username"`
	Email     string   `yaml:"email"`
	FirstName string   `yaml:"first_name"`
	LastName  string   `yaml:"last_name"`
	Team      string   `yaml:"team"`
	Roles     []string `yaml:"roles"`
}

type seedStage struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Final       bool   `yaml:"final"`
	Color       string `yaml:"color"`
	Category    string `yaml:"category"`
}

type seedWorkflow struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Status      string      `yaml:"status"`
	Department  string      `yaml:"department"`
	Stages      []seedStage `yaml:"stages"`
}

type seedTask struct {
	Workflow       string `yaml:"workflow"`
	Title          string `yaml:"title"`
	Description    string `yaml:"description"`
	Stage          string `yaml:"stage"`
	Priority       string `yaml:"priority"`
	Assignee       string `yaml:"assignee"`
	Creator        string `yaml:"creator"`
	Due            string `yaml:"due"`
	EstimatedHours *int   `yaml:"estimated_hours"`
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load departments, users, workflows and tasks from a YAML file",
		Long: `seed applies a YAML document in a single transaction. Records refer to
each other by name, and a task without a stage starts on its workflow's
first stage. Nothing is written if any record fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read seed file: %w", err)
			}
			var doc seedDoc
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return sferrors.Newf(sferrors.ErrInvalidInput, "seed file %s: %v", args[0], err)
			}
			items, err := doc.staged()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, database, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, err = a.actingContext(ctx, svc)
			if err != nil {
				return err
			}
			if err := svc.ApplyItems(ctx, items); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.output == OutputJSON {
				return writeJSON(out, items)
			}
			fmt.Fprintf(out, "✓ Seeded %d departments, %d teams, %d roles, %d users, %d workflows, %d tasks\n",
				len(items.Departments), len(items.Teams), len(items.Roles), len(items.Users), len(items.Workflows), len(items.Tasks))
			return nil
		},
	}
}

// staged converts the document into the form the batch writer takes.
func (d *seedDoc) staged() (*db.StagedItems, error) {
	items := &db.StagedItems{}

	for _, dep := range d.Departments {
		items.Departments = append(items.Departments, &models.Department{Name: dep.Name, Description: dep.Description})
	}
	for _, t := range d.Teams {
		items.Teams = append(items.Teams, &db.StagedTeam{
			Team:           models.Team{Name: t.Name, Description: t.Description, Active: true},
			DepartmentName: t.Department,
		})
	}
	for _, r := range d.Roles {
		items.Roles = append(items.Roles, &models.Role{
			Name:        r.Name,
			Description: r.Description,
			Level:       r.Level,
			Active:      true,
			Permissions: r.Permissions,
		})
	}
	for _, u := range d.Users {
		items.Users = append(items.Users, &db.StagedUser{
			User: models.User{
				Username:  u.Username,
				Email:     u.Email,
				FirstName: u.FirstName,
				LastName:  u.LastName,
				Enabled:   true,
			},
			TeamName:  u.Team,
			RoleNames: u.Roles,
		})
	}

	for _, w := range d.Workflows {
		sw := &db.StagedWorkflow{
			Workflow: models.Workflow{
				Name:        w.Name,
				Description: w.Description,
				Status:      models.WorkflowStatus(strings.ToUpper(w.Status)),
			},
			DepartmentName: w.Department,
		}
		for _, st := range w.Stages {
			stage := &models.Stage{Name: st.Name, Description: st.Description, IsFinal: st.Final, Color: st.Color}
			if st.Category != "" {
				c, err := models.ParseCategory(st.Category)
				if err != nil {
					return nil, sferrors.Newf(sferrors.ErrInvalidInput, "stage %s/%s: %v", w.Name, st.Name, err)
				}
				stage.Category = &c
			}
			sw.Stages = append(sw.Stages, stage)
		}
		items.Workflows = append(items.Workflows, sw)
	}

	for _, t := range d.Tasks {
		st := &db.StagedTask{
			Task: models.Task{
				Title:          t.Title,
				Description:    t.Description,
				EstimatedHours: t.EstimatedHours,
			},
			WorkflowName:     t.Workflow,
			StageName:        t.Stage,
			AssigneeUsername: t.Assignee,
			CreatorUsername:  t.Creator,
		}
		if t.Priority != "" {
			p, err := models.ParsePriority(t.Priority)
			if err != nil {
				return nil, sferrors.Newf(sferrors.ErrInvalidInput, "task %q: %v", t.Title, err)
			}
			st.Priority = p
		}
		due, err := parseDue(t.Due)
		if err != nil {
			return nil, sferrors.Newf(sferrors.ErrInvalidInput, "task %q: %v", t.Title, err)
		}
		st.DueDate = due
		items.Tasks = append(items.Tasks, st)
	}
	return items, nil
}

// parseDue accepts RFC 3339 timestamps and plain dates.
func parseDue(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("due date is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("due date %q must be RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
