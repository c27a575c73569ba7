package pipeline

import (
	"sort"

	"github.com/ldi/stageflow/pkg/models"
)

// Sorted returns stages ordered ascending by Order, ties broken by name.
// The input slice is not modified.
func Sorted(stages []*models.Stage) []*models.Stage {
	out := make([]*models.Stage, len(stages))
	copy(out, stages)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// First returns the stage with the lowest order, or nil.
func First(stages []*models.Stage) *models.Stage {
	s := Sorted(stages)
	if len(s) == 0 {
		return nil
	}
	return s[0]
}

// Next returns the stage with the smallest order strictly greater than
// order, or nil.
func Next(stages []*models.Stage, order int) *models.Stage {
	for _, s := range Sorted(stages) {
		if s.Order > order {
			return s
		}
	}
	return nil
}

// Previous returns the stage with the largest order strictly less than
// order, or nil.
func Previous(stages []*models.Stage, order int) *models.Stage {
	var prev *models.Stage
	for _, s := range Sorted(stages) {
		if s.Order >= order {
			break
		}
		prev = s
	}
	return prev
}

// MaxOrder returns the highest order, or 0 for an empty pipeline.
func MaxOrder(stages []*models.Stage) int {
	max := 0
	for i, s := range stages {
		if i == 0 || s.Order > max {
			max = s.Order
		}
	}
	return max
}

// After returns every stage after current. A nil current returns the whole
// pipeline.
func After(stages []*models.Stage, current *models.Stage) []*models.Stage {
	sorted := Sorted(stages)
	if current == nil {
		return sorted
	}
	var out []*models.Stage
	for _, s := range sorted {
		if s.Order > current.Order {
			out = append(out, s)
		}
	}
	return out
}

// FirstFinal returns the lowest ordered final stage, or nil.
func FirstFinal(stages []*models.Stage) *models.Stage {
	for _, s := range Sorted(stages) {
		if s.IsFinal {
			return s
		}
	}
	return nil
}

// TargetFor picks the stage a task should move to in order to resolve to c.
// COMPLETED picks the first final stage; other categories pick the first
// non-final stage that resolves to c. It returns nil when no stage fits.
func TargetFor(stages []*models.Stage, c models.Category) *models.Stage {
	if c == models.CategoryCompleted {
		return FirstFinal(stages)
	}
	for _, s := range Sorted(stages) {
		if !s.IsFinal && Resolve(s) == c {
			return s
		}
	}
	return nil
}
