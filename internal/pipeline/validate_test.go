package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

func TestValidateStage(t *testing.T) {
	valid := func() *models.Stage {
		return &models.Stage{Name: "Review", Color: models.DefaultStageColor}
	}
	require.NoError(t, ValidateStage(valid()))

	withCategory := valid()
	withCategory.Category = cat(models.CategoryOnHold)
	require.NoError(t, ValidateStage(withCategory))

	tests := []struct {
		name   string
		mutate func(*models.Stage)
	}{
		{"empty name", func(s *models.Stage) { s.Name = "  " }},
		{"long name", func(s *models.Stage) { s.Name = strings.Repeat("a", MaxStageName+1) }},
		{"long description", func(s *models.Stage) { s.Description = strings.Repeat("d", MaxStageDescription+1) }},
		{"bad color", func(s *models.Stage) { s.Color = "#zz" }},
		{"missing color", func(s *models.Stage) { s.Color = "" }},
		{"completed category", func(s *models.Stage) { s.Category = cat(models.CategoryCompleted) }},
		{"unknown category", func(s *models.Stage) { s.Category = cat("BOGUS") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := valid()
			tt.mutate(st)
			assert.ErrorIs(t, ValidateStage(st), sferrors.ErrInvalidInput)
		})
	}
}

func TestExplicit(t *testing.T) {
	for _, c := range ExplicitCategories() {
		assert.True(t, Explicit(c), c)
	}
	assert.False(t, Explicit(models.CategoryCompleted))
	assert.False(t, Explicit("BOGUS"))
	assert.False(t, Explicit(""))
}
