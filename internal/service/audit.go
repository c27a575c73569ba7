package service

import (
	"context"
	"fmt"

	"github.com/ldi/stageflow/pkg/models"
)

// Auditor records mutations. Failures are logged by the caller and never
// undo the mutation.
type Auditor interface {
	Record(ctx context.Context, e *models.AuditEntry) error
}

// AuditAppender is implemented by *db.Repo.
type AuditAppender interface {
	AppendAudit(ctx context.Context, e *models.AuditEntry) error
}

// DBAuditor writes entries to the audit_log table.
type DBAuditor struct {
	store AuditAppender
}

// NewDBAuditor creates an auditor over store.
func NewDBAuditor(store AuditAppender) *DBAuditor {
	return &DBAuditor{store: store}
}

// Record implements Auditor.
func (a *DBAuditor) Record(ctx context.Context, e *models.AuditEntry) error {
	return a.store.AppendAudit(ctx, e)
}

// NoopAuditor drops every entry.
type NoopAuditor struct{}

// Record implements Auditor.
func (NoopAuditor) Record(context.Context, *models.AuditEntry) error { return nil }

var (
	_ Auditor = (*DBAuditor)(nil)
	_ Auditor = NoopAuditor{}
)

func stageLabel(s *models.Stage) string {
	if s == nil {
		return "none"
	}
	return s.Name
}

func stageChangeDescription(from, to *models.Stage, title string) string {
	return fmt.Sprintf("Changed workflow status from %s to %s for task: %s", stageLabel(from), stageLabel(to), title)
}

func ptr(s string) *string { return &s }
