package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskMoveTo(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	done := &Stage{ID: "done", Name: "Done", Order: 3, IsFinal: true}
	review := &Stage{ID: "review", Name: "In Review", Order: 2}

	task := &Task{}

	task.MoveTo(done, t0)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, t0, *task.CompletedAt)
	require.NotNil(t, task.StageID)
	assert.Equal(t, "done", *task.StageID)

	// Same final stage again keeps the first stamp.
	task.MoveTo(done, t1)
	assert.Equal(t, t0, *task.CompletedAt)

	task.MoveTo(review, t1)
	assert.Nil(t, task.CompletedAt)
	assert.Equal(t, "review", *task.StageID)
	assert.Same(t, review, task.Stage)

	task.MoveTo(done, t1)
	assert.Equal(t, t1, *task.CompletedAt)

	task.MoveTo(nil, t1)
	assert.Nil(t, task.CompletedAt)
	assert.Nil(t, task.StageID)
	assert.Nil(t, task.Stage)
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"pending", CategoryPending, true},
		{"In Progress", CategoryInProgress, true},
		{"on-hold", CategoryOnHold, true},
		{" COMPLETED ", CategoryCompleted, true},
		{"cancelled", CategoryCancelled, true},
		{"done", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCategory(tc.in)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("urgent")
	require.NoError(t, err)
	assert.Equal(t, PriorityUrgent, p)

	_, err = ParsePriority("critical")
	assert.Error(t, err)
}

func TestNewPage(t *testing.T) {
	p := NewPage([]int{1, 2}, 5, PageRequest{Page: 3, PageSize: 2})
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, 3, p.Page)

	empty := NewPage[int](nil, 0, PageRequest{Page: 1, PageSize: 20})
	assert.NotNil(t, empty.Items)
	assert.Equal(t, 0, empty.TotalPages)

	assert.Equal(t, 40, PageRequest{Page: 3, PageSize: 20}.Offset())
}

func TestStatusCountsTotal(t *testing.T) {
	c := StatusCounts{CategoryPending: 2, CategoryCompleted: 3, CategoryOnHold: 0}
	assert.Equal(t, 5, c.Total())
}

func TestPageRequestNormalize(t *testing.T) {
	assert.Equal(t, PageRequest{Page: 1, PageSize: 20}, PageRequest{}.Normalize(20, 100))
	assert.Equal(t, PageRequest{Page: 2, PageSize: 100}, PageRequest{Page: 2, PageSize: 5000}.Normalize(20, 100))
	assert.Equal(t, PageRequest{Page: 1, PageSize: 1}, PageRequest{Page: -3, PageSize: 0}.Normalize(0, 100))
}
