// Package pipeline classifies tasks by the stage they occupy and navigates a
// workflow's ordered stages.
//
// The classification rules live in one ordered table. Resolve walks it in
// memory for a single stage; CaseExpr compiles the same table to a SQL CASE
// expression so bulk queries filter and group on identical logic.
package pipeline

import (
	"strings"

	"github.com/ldi/stageflow/pkg/models"
)

// Match selects which stage attribute a rule tests.
type Match int

const (
	// MatchNoStage matches a task without a stage.
	MatchNoStage Match = iota
	// MatchFinal matches stages flagged final.
	MatchFinal
	// MatchExplicit matches stages with a configured category override.
	MatchExplicit
	// MatchName matches stages whose name contains any of the rule keywords,
	// ignoring case.
	MatchName
	// MatchAny matches every stage.
	MatchAny
)

// Rule is one row of the classification table.
type Rule struct {
	Match    Match
	Keywords []string
	Category models.Category
}

// Rules is the classification table. The first matching rule wins.
//
//nolint:gochecknoglobals // Read-only table
var Rules = []Rule{
	{Match: MatchNoStage, Category: models.CategoryPending},
	{Match: MatchFinal, Category: models.CategoryCompleted},
	{Match: MatchExplicit},
	{Match: MatchName, Keywords: []string{"hold", "pause"}, Category: models.CategoryOnHold},
	{Match: MatchName, Keywords: []string{"cancel"}, Category: models.CategoryCancelled},
	{Match: MatchName, Keywords: []string{"progress", "active", "work"}, Category: models.CategoryInProgress},
	{Match: MatchAny, Category: models.CategoryPending},
}

// Resolve returns the derived category for a task on stage. A nil stage
// means the task has not started.
func Resolve(stage *models.Stage) models.Category {
	return resolve(Rules, stage)
}

func resolve(rules []Rule, stage *models.Stage) models.Category {
	for _, r := range rules {
		switch r.Match {
		case MatchNoStage:
			if stage == nil {
				return r.Category
			}
		case MatchFinal:
			if stage != nil && stage.IsFinal {
				return r.Category
			}
		case MatchExplicit:
			if stage != nil && stage.Category != nil && Explicit(*stage.Category) {
				return *stage.Category
			}
		case MatchName:
			if stage != nil && containsAny(stage.Name, r.Keywords) {
				return r.Category
			}
		case MatchAny:
			if stage != nil {
				return r.Category
			}
		}
	}
	return models.CategoryPending
}

// containsAny folds ASCII letters only, matching SQLite's lower().
func containsAny(name string, keywords []string) bool {
	lower := asciiLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, asciiLower(kw)) {
			return true
		}
	}
	return false
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Open reports whether tasks in c still count as open work.
func Open(c models.Category) bool {
	return c != models.CategoryCompleted && c != models.CategoryCancelled
}
