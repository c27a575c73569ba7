package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ldi/stageflow/pkg/models"
)

func cat(c models.Category) *models.Category { return &c }

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		stage *models.Stage
		want  models.Category
	}{
		{"no stage", nil, models.CategoryPending},
		{"final wins over name", &models.Stage{Name: "On Hold", IsFinal: true}, models.CategoryCompleted},
		{"done final", &models.Stage{Name: "Done", Order: 3, IsFinal: true}, models.CategoryCompleted},
		{"in review", &models.Stage{Name: "In Review", Order: 2}, models.CategoryPending},
		{"on hold", &models.Stage{Name: "On Hold", Order: 2}, models.CategoryOnHold},
		{"paused", &models.Stage{Name: "PAUSED"}, models.CategoryOnHold},
		{"cancelled after final", &models.Stage{Name: "Cancelled", Order: 4}, models.CategoryCancelled},
		{"in progress", &models.Stage{Name: "In Progress"}, models.CategoryInProgress},
		{"active", &models.Stage{Name: "Active Development"}, models.CategoryInProgress},
		{"work", &models.Stage{Name: "Working"}, models.CategoryInProgress},
		{"hold beats progress", &models.Stage{Name: "Progress on hold"}, models.CategoryOnHold},
		{"cancel beats active", &models.Stage{Name: "Cancel active"}, models.CategoryCancelled},
		{"explicit override", &models.Stage{Name: "Backlog", Category: cat(models.CategoryInProgress)}, models.CategoryInProgress},
		{"explicit beats name", &models.Stage{Name: "On Hold", Category: cat(models.CategoryPending)}, models.CategoryPending},
		{"final beats explicit", &models.Stage{Name: "Ship", IsFinal: true, Category: cat(models.CategoryOnHold)}, models.CategoryCompleted},
		{"todo", &models.Stage{Name: "To Do"}, models.CategoryPending},
		{"completed override ignored", &models.Stage{Name: "Review", Category: cat(models.CategoryCompleted)}, models.CategoryPending},
		{"unknown override ignored", &models.Stage{Name: "Working", Category: cat("BOGUS")}, models.CategoryInProgress},
		{"ascii keyword next to a kelvin sign", &models.Stage{Name: "\u212AWORK queue"}, models.CategoryInProgress},
		{"kelvin sign is not k", &models.Stage{Name: "WOR\u212A"}, models.CategoryPending},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Resolve(tc.stage))
		})
	}
}

func TestOpen(t *testing.T) {
	assert.True(t, Open(models.CategoryPending))
	assert.True(t, Open(models.CategoryOnHold))
	assert.True(t, Open(models.CategoryInProgress))
	assert.False(t, Open(models.CategoryCancelled))
	assert.False(t, Open(models.CategoryCompleted))
}

// TestCaseExprAgreesWithResolve evaluates the compiled SQL against a matrix
// of stage shapes and compares every row with the in-memory result.
func TestCaseExprAgreesWithResolve(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `
		CREATE TABLE stages (id TEXT PRIMARY KEY, name TEXT NOT NULL, is_final INTEGER NOT NULL, category TEXT);
		CREATE TABLE cases (id TEXT PRIMARY KEY, stage_id TEXT);
	`)
	require.NoError(t, err)

	names := []string{
		"To Do", "In Review", "On Hold", "Paused", "Cancelled", "In Progress",
		"Active", "Work queue", "HOLD", "Done", "", "Awaiting cancel", "progress/hold",
		"WOR\u212A queue", "\u00C9tape en cours", "PAUSE\u0130", "CANC\u0395L",
	}
	overrides := []*models.Category{
		nil, cat(models.CategoryPending), cat(models.CategoryInProgress), cat(models.CategoryOnHold), cat(models.CategoryCancelled),
		cat(models.CategoryCompleted), cat("BOGUS"), cat(""),
	}

	want := map[string]models.Category{"none": Resolve(nil)}
	_, err = db.ExecContext(ctx, `INSERT INTO cases (id, stage_id) VALUES ('none', NULL)`)
	require.NoError(t, err)

	n := 0
	for _, name := range names {
		for _, final := range []bool{false, true} {
			for _, ov := range overrides {
				n++
				id := fmt.Sprintf("s%d", n)
				st := &models.Stage{ID: id, Name: name, IsFinal: final, Category: ov}
				want[id] = Resolve(st)

				var catArg any
				if ov != nil {
					catArg = string(*ov)
				}
				_, err := db.ExecContext(ctx, `INSERT INTO stages (id, name, is_final, category) VALUES (?, ?, ?, ?)`, id, name, final, catArg)
				require.NoError(t, err)
				_, err = db.ExecContext(ctx, `INSERT INTO cases (id, stage_id) VALUES (?, ?)`, id, id)
				require.NoError(t, err)
			}
		}
	}

	rows, err := db.QueryContext(ctx, `SELECT p.id, `+CaseExpr("s")+` FROM cases p LEFT JOIN stages s ON s.id = p.stage_id`)
	require.NoError(t, err)
	defer rows.Close()

	seen := 0
	for rows.Next() {
		var id, got string
		require.NoError(t, rows.Scan(&id, &got))
		assert.Equal(t, string(want[id]), got, "case %s", id)
		seen++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, len(want), seen)
}

func TestCaseExprShape(t *testing.T) {
	expr := CaseExpr("ws")
	assert.Contains(t, expr, "WHEN ws.id IS NULL THEN 'PENDING'")
	assert.Contains(t, expr, "WHEN ws.is_final = 1 THEN 'COMPLETED'")
	assert.Contains(t, expr, "lower(ws.name) LIKE '%work%'")
	assert.Contains(t, expr, "WHEN ws.category IN ('PENDING', 'IN_PROGRESS', 'ON_HOLD', 'CANCELLED') THEN ws.category")
	assert.Contains(t, expr, "ELSE 'PENDING' END")
	assert.Equal(t, "(ws.id IS NULL OR ws.is_final = 0)", OpenExpr("ws"))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "'it''s'", quote("it's"))
}
