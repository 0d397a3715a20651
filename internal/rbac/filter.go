// Package rbac applies permission-scoped row filtering to raw cached
// results. Cache entries are shared across callers, so this filter is the
// only thing standing between a cached row set and a caller who must not
// see all of it: every fetch path runs through Filter, hit or miss.
package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxisbi/dscache/internal/metrics"
	"github.com/praxisbi/dscache/internal/rowset"
)

// AuditEvent records a fail-closed response: a caller whose scope resolved
// to zero accessible practices asked for data and received none. The caller
// sees an ordinary empty result; this event is the only trace of why.
type AuditEvent struct {
	ID             string
	DataSourceID   int64
	Scope          rowset.Scope
	RowsSuppressed int
	OccurredAt     time.Time
}

// AuditSink receives fail-closed events. Implementations must not block.
type AuditSink interface {
	FailClosed(ctx context.Context, event AuditEvent)
}

// Service is the RBACFilterService.
type Service struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
	sink    AuditSink
}

// New builds the filter service. sink may be nil; the event is always
// logged and counted regardless.
func New(logger *slog.Logger, recorder *metrics.Recorder, sink AuditSink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, metrics: recorder, sink: sink}
}

// Filter returns the subset of rows the context may see, in input order.
//
// Scope "all" passes rows through untouched. Any other scope with an empty
// accessible-practice set yields zero rows and a high-severity audit signal:
// ambiguous authorization data fails closed, never open. Rows whose practice
// field is missing or unreadable are likewise excluded.
func (s *Service) Filter(ctx context.Context, rows rowset.RowSet, permCtx rowset.PermissionContext, schema rowset.Schema) rowset.RowSet {
	if permCtx.BypassesFiltering() {
		return rows
	}

	if len(permCtx.AccessiblePracticeIDs) == 0 {
		s.failClosed(ctx, permCtx, schema, len(rows))
		return rowset.RowSet{}
	}

	filtered := make(rowset.RowSet, 0, len(rows))
	for _, row := range rows {
		practiceID, ok := row.Int64(schema.PracticeField)
		if !ok {
			continue
		}
		if permCtx.AccessiblePracticeIDs.Contains(practiceID) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func (s *Service) failClosed(ctx context.Context, permCtx rowset.PermissionContext, schema rowset.Schema, suppressed int) {
	event := AuditEvent{
		ID:             uuid.NewString(),
		DataSourceID:   schema.DataSourceID,
		Scope:          permCtx.Scope,
		RowsSuppressed: suppressed,
		OccurredAt:     time.Now().UTC(),
	}
	s.logger.Error("permission scope resolved to zero practices, failing closed",
		slog.String("audit_id", event.ID),
		slog.Int64("data_source", event.DataSourceID),
		slog.String("scope", string(event.Scope)),
		slog.Int("rows_suppressed", event.RowsSuppressed))
	s.metrics.RecordFailClosed(string(permCtx.Scope))
	if s.sink != nil {
		s.sink.FailClosed(ctx, event)
	}
}
