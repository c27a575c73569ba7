package service

import (
	"strings"
	"unicode/utf8"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/pipeline"
	"github.com/ldi/stageflow/pkg/models"
)

// Field limits.
const (
	MaxNameLength        = 100
	MaxTitleLength       = 200
	MaxDescriptionLength = 500
	MaxTaskDescription   = 1000
	MaxCommentLength     = 1000
)

func requireText(field, v string, max int) error {
	if strings.TrimSpace(v) == "" {
		return sferrors.Newf(sferrors.ErrInvalidInput, "%s is required", field)
	}
	return maxLen(field, v, max)
}

func maxLen(field, v string, max int) error {
	if utf8.RuneCountInString(v) > max {
		return sferrors.Newf(sferrors.ErrInvalidInput, "%s must be at most %d characters", field, max)
	}
	return nil
}

func nonNegative(field string, v *int) error {
	if v != nil && *v < 0 {
		return sferrors.Newf(sferrors.ErrInvalidInput, "%s must not be negative", field)
	}
	return nil
}

func validateStage(st *models.Stage) error {
	return pipeline.ValidateStage(st)
}

func validateTask(t *models.Task) error {
	if err := requireText("title", t.Title, MaxTitleLength); err != nil {
		return err
	}
	if err := maxLen("description", t.Description, MaxTaskDescription); err != nil {
		return err
	}
	if !t.Priority.IsValid() {
		return sferrors.Newf(sferrors.ErrInvalidInput, "priority %q", string(t.Priority))
	}
	if t.DueDate.IsZero() {
		return sferrors.Newf(sferrors.ErrInvalidInput, "due date is required")
	}
	if err := nonNegative("estimated hours", t.EstimatedHours); err != nil {
		return err
	}
	return nonNegative("actual hours", t.ActualHours)
}

func validateWorkflow(w *models.Workflow) error {
	if err := requireText("workflow name", w.Name, MaxNameLength); err != nil {
		return err
	}
	if err := maxLen("workflow description", w.Description, MaxDescriptionLength); err != nil {
		return err
	}
	if !w.Status.IsValid() {
		return sferrors.Newf(sferrors.ErrInvalidInput, "workflow status %q", string(w.Status))
	}
	return nil
}
