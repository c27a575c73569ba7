package db

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/pipeline"
	"github.com/ldi/stageflow/pkg/models"
)

// SnapshotVersion is written to the meta record of every export.
const SnapshotVersion = 1

type snapshotMeta struct {
	RecordType string    `json:"record_type"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
}

type snapshotWorkflow struct {
	RecordType string `json:"record_type"`
	*models.Workflow
}

type snapshotStage struct {
	RecordType   string `json:"record_type"`
	WorkflowName string `json:"workflow_name"`
	*models.Stage
}

type snapshotTask struct {
	RecordType string `json:"record_type"`
	StageName  string `json:"stage_name,omitempty"`
	*models.Task
}

// EnableAutoSnapshot sets up a hook that automatically exports a snapshot
// to the given path after every successful write operation. Export errors
// are passed to onError, which may be nil.
func (db *DB) EnableAutoSnapshot(path string, onError func(error)) {
	db.SetOnChange(func(ctx context.Context) {
		if err := db.ExportSnapshot(ctx, path); err != nil && onError != nil {
			onError(err)
		}
	})
}

// ExportSnapshot writes workflows, their stages and all tasks as JSON lines
// to path, atomically through a temporary file. Task lines carry the
// derived status.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	w := bufio.NewWriter(tempFile)
	enc := json.NewEncoder(w)

	if err := enc.Encode(snapshotMeta{RecordType: "meta", Version: SnapshotVersion, ExportedAt: db.clock.Now().UTC()}); err != nil {
		return fmt.Errorf("failed to write snapshot meta: %w", err)
	}

	workflows, err := db.ListWorkflows(ctx, nil)
	if err != nil {
		return err
	}
	for _, wf := range workflows {
		if err := enc.Encode(snapshotWorkflow{RecordType: "workflow", Workflow: wf}); err != nil {
			return fmt.Errorf("failed to write workflow line: %w", err)
		}
		stages, err := db.ListStages(ctx, wf.ID)
		if err != nil {
			return err
		}
		for _, s := range stages {
			if err := enc.Encode(snapshotStage{RecordType: "stage", WorkflowName: wf.Name, Stage: s}); err != nil {
				return fmt.Errorf("failed to write stage line: %w", err)
			}
		}
	}

	tasks, err := db.queryTasks(ctx, taskSelect+` ORDER BY lower(w.name) ASC, lower(t.title) ASC`)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		line := snapshotTask{RecordType: "task", Task: t}
		if t.Stage != nil {
			line.StageName = t.Stage.Name
		}
		// The stage is referenced by name; the summary would duplicate it.
		stage := t.Stage
		t.Stage = nil
		err := enc.Encode(line)
		t.Stage = stage
		if err != nil {
			return fmt.Errorf("failed to write task line: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := os.Rename(filename, path); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ImportSnapshot reads a JSONL snapshot and merges it into the database.
// Records are matched by name: workflows by name, stages by workflow and
// name, tasks by workflow and title. Matches are updated, the rest are
// inserted. Task status lines are ignored; status is always derived.
func (db *DB) ImportSnapshot(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	return db.InTx(ctx, func(r *Repo) error {
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			if err := r.importLine(ctx, line); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("scanner error: %w", err)
		}
		return nil
	})
}

func (r *Repo) importLine(ctx context.Context, line []byte) error {
	var base struct {
		RecordType string `json:"record_type"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return fmt.Errorf("failed to unmarshal base record: %w", err)
	}

	switch base.RecordType {
	case "workflow":
		rec := snapshotWorkflow{Workflow: &models.Workflow{}}
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal workflow: %w", err)
		}
		return r.importWorkflow(ctx, rec.Workflow)

	case "stage":
		rec := snapshotStage{Stage: &models.Stage{}}
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal stage: %w", err)
		}
		return r.importStage(ctx, rec.WorkflowName, rec.Stage)

	case "task":
		rec := snapshotTask{Task: &models.Task{}}
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}
		return r.importTask(ctx, rec.StageName, rec.Task)
	}

	// meta and unknown record types are skipped
	return nil
}

func (r *Repo) importWorkflow(ctx context.Context, w *models.Workflow) error {
	// Departments are not part of the snapshot.
	if w.DepartmentID != nil {
		var n int
		if err := r.exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM departments WHERE id = ?`, *w.DepartmentID).Scan(&n); err != nil {
			return fmt.Errorf("failed to check department for workflow %s: %w", w.Name, err)
		}
		if n == 0 {
			w.DepartmentID = nil
		}
	}

	existing, err := r.GetWorkflowByName(ctx, w.Name)
	switch {
	case err == nil:
		w.ID = existing.ID
		if err := r.UpdateWorkflow(ctx, w); err != nil {
			return fmt.Errorf("failed to sync workflow %s: %w", w.Name, err)
		}
	case sferrors.Is(err, sferrors.ErrNotFound):
		w.ID = ""
		if err := r.CreateWorkflow(ctx, w); err != nil {
			return fmt.Errorf("failed to sync workflow %s: %w", w.Name, err)
		}
	default:
		return err
	}
	return nil
}

func (r *Repo) importStage(ctx context.Context, workflowName string, s *models.Stage) error {
	w, err := r.GetWorkflowByName(ctx, workflowName)
	if err != nil {
		return fmt.Errorf("workflow not found for stage %s: %w", s.Name, err)
	}
	s.WorkflowID = w.ID
	if s.Color == "" {
		s.Color = models.DefaultStageColor
	}
	if err := pipeline.ValidateStage(s); err != nil {
		return fmt.Errorf("invalid stage %s/%s: %w", workflowName, s.Name, err)
	}

	existing, err := r.GetStageByName(ctx, w.ID, s.Name)
	switch {
	case err == nil:
		s.ID = existing.ID
		err = r.UpdateStage(ctx, s)
	case sferrors.Is(err, sferrors.ErrNotFound):
		s.ID = ""
		err = r.CreateStage(ctx, s)
	}
	if err != nil {
		return fmt.Errorf("failed to sync stage %s/%s: %w", workflowName, s.Name, err)
	}
	return nil
}

func (r *Repo) importTask(ctx context.Context, stageName string, t *models.Task) error {
	w, err := r.GetWorkflowByName(ctx, t.WorkflowName)
	if err != nil {
		return fmt.Errorf("workflow not found for task %s: %w", t.Title, err)
	}
	t.WorkflowID = w.ID

	var stage *models.Stage
	if stageName != "" {
		if stage, err = r.GetStageByName(ctx, w.ID, stageName); err != nil {
			return fmt.Errorf("stage not found for task %s: %w", t.Title, err)
		}
	}
	// Keeps an exported completion stamp on final stages, clears it elsewhere.
	t.MoveTo(stage, t.UpdatedAt)

	var existingID string
	err = r.exec.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE workflow_id = ? AND lower(title) = lower(?)`, w.ID, t.Title,
	).Scan(&existingID)
	switch {
	case err == nil:
		t.ID = existingID
		err = r.UpdateTask(ctx, t)
	case err == sql.ErrNoRows:
		t.ID = ""
		err = r.CreateTask(ctx, t)
	}
	if err != nil {
		return fmt.Errorf("failed to sync task %s: %w", t.Title, err)
	}
	return nil
}
