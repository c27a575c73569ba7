package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

// Stage field limits.
const (
	MaxStageName        = 100
	MaxStageDescription = 500
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ExplicitCategories lists the categories a stage may carry as an override.
// COMPLETED is reserved for final stages.
func ExplicitCategories() []models.Category {
	return []models.Category{
		models.CategoryPending,
		models.CategoryInProgress,
		models.CategoryOnHold,
		models.CategoryCancelled,
	}
}

// Explicit reports whether c is allowed as a stage override.
func Explicit(c models.Category) bool {
	return c.IsValid() && c != models.CategoryCompleted
}

// ValidateCategory rejects unknown categories and COMPLETED.
func ValidateCategory(c *models.Category) error {
	if c == nil {
		return nil
	}
	if !c.IsValid() {
		return sferrors.Newf(sferrors.ErrInvalidInput, "category %q", string(*c))
	}
	if *c == models.CategoryCompleted {
		return sferrors.Newf(sferrors.ErrInvalidInput, "category COMPLETED: mark the stage final instead")
	}
	return nil
}

// ValidateStage checks the stored fields of a stage. Every write path runs
// it: the service, staged batches and snapshot import.
func ValidateStage(st *models.Stage) error {
	if strings.TrimSpace(st.Name) == "" {
		return sferrors.Newf(sferrors.ErrInvalidInput, "stage name is required")
	}
	if utf8.RuneCountInString(st.Name) > MaxStageName {
		return sferrors.Newf(sferrors.ErrInvalidInput, "stage name must be at most %d characters", MaxStageName)
	}
	if utf8.RuneCountInString(st.Description) > MaxStageDescription {
		return sferrors.Newf(sferrors.ErrInvalidInput, "stage description must be at most %d characters", MaxStageDescription)
	}
	if !colorPattern.MatchString(st.Color) {
		return sferrors.Newf(sferrors.ErrInvalidInput, "color %q must be #RRGGBB", st.Color)
	}
	return ValidateCategory(st.Category)
}
