package models

import (
	"fmt"
	"strings"
)

// Category is the derived status of a task. It is never stored on the task
// itself; it is computed from the stage the task currently occupies.
type Category string

const (
	CategoryPending    Category = "PENDING"
	CategoryInProgress Category = "IN_PROGRESS"
	CategoryOnHold     Category = "ON_HOLD"
	CategoryCancelled  Category = "CANCELLED"
	CategoryCompleted  Category = "COMPLETED"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryPending,
		CategoryInProgress,
		CategoryOnHold,
		CategoryCancelled,
		CategoryCompleted,
	}
}

func (c Category) String() string {
	return string(c)
}

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryPending, CategoryInProgress, CategoryOnHold, CategoryCancelled, CategoryCompleted:
		return true
	default:
		return false
	}
}

// ParseCategory parses a category name. It accepts any case and treats
// spaces and dashes as underscores, so "in progress" parses as IN_PROGRESS.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	c := Category(norm)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown status category %q", s)
	}
	return c, nil
}
