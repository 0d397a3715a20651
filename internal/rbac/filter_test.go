package rbac

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/praxisbi/dscache/internal/rowset"
)

type captureSink struct {
	events []AuditEvent
}

func (c *captureSink) FailClosed(_ context.Context, event AuditEvent) {
	c.events = append(c.events, event)
}

func testSchema() rowset.Schema {
	return rowset.Schema{DataSourceID: 7, PracticeField: "practice_id", DateField: "period_start"}
}

func syntheticRows(practices int, perPractice int) rowset.RowSet {
	rows := make(rowset.RowSet, 0, practices*perPractice)
	for p := 1; p <= practices; p++ {
		for i := 0; i < perPractice; i++ {
			rows = append(rows, rowset.Row{
				"practice_id": int64(p),
				"value":       float64(p*100 + i),
				"label":       fmt.Sprintf("p%d-r%d", p, i),
			})
		}
	}
	return rows
}

func TestFilterSuperAdminBypass(t *testing.T) {
	svc := New(nil, nil, nil)
	rows := syntheticRows(10, 50)
	require.Len(t, rows, 500)

	out := svc.Filter(context.Background(), rows, rowset.PermissionContext{Scope: rowset.ScopeAll}, testSchema())
	require.Len(t, out, 500)
	require.Equal(t, rows, out)
}

func TestFilterOrganizationScope(t *testing.T) {
	svc := New(nil, nil, nil)
	rows := syntheticRows(3, 4)

	out := svc.Filter(context.Background(), rows, rowset.PermissionContext{
		Scope:                 rowset.ScopeOrganization,
		AccessiblePracticeIDs: rowset.NewPracticeSet(1, 2),
	}, testSchema())

	require.Len(t, out, 8)
	for _, row := range out {
		id, ok := row.Int64("practice_id")
		require.True(t, ok)
		require.Contains(t, []int64{1, 2}, id)
	}
}

func TestFilterPreservesInputOrder(t *testing.T) {
	svc := New(nil, nil, nil)
	rows := rowset.RowSet{
		{"practice_id": int64(2), "label": "a"},
		{"practice_id": int64(1), "label": "b"},
		{"practice_id": int64(3), "label": "c"},
		{"practice_id": int64(2), "label": "d"},
		{"practice_id": int64(1), "label": "e"},
	}

	out := svc.Filter(context.Background(), rows, rowset.PermissionContext{
		Scope:                 rowset.ScopeOwn,
		AccessiblePracticeIDs: rowset.NewPracticeSet(1, 2),
	}, testSchema())

	labels := make([]string, 0, len(out))
	for _, row := range out {
		labels = append(labels, row["label"].(string))
	}
	require.Equal(t, []string{"a", "b", "d", "e"}, labels)
}

func TestFilterEmptyScopeFailsClosed(t *testing.T) {
	sink := &captureSink{}
	svc := New(nil, nil, sink)
	rows := syntheticRows(5, 10)

	out := svc.Filter(context.Background(), rows, rowset.PermissionContext{
		Scope:                 rowset.ScopeOwn,
		AccessiblePracticeIDs: rowset.NewPracticeSet(),
	}, testSchema())

	require.Empty(t, out)
	require.NotNil(t, out)
	require.Len(t, sink.events, 1)

	event := sink.events[0]
	require.NotEmpty(t, event.ID)
	require.Equal(t, int64(7), event.DataSourceID)
	require.Equal(t, rowset.ScopeOwn, event.Scope)
	require.Equal(t, 50, event.RowsSuppressed)
	require.False(t, event.OccurredAt.IsZero())
}

func TestFilterNilPracticeSetFailsClosed(t *testing.T) {
	sink := &captureSink{}
	svc := New(nil, nil, sink)

	out := svc.Filter(context.Background(), syntheticRows(2, 2), rowset.PermissionContext{
		Scope: rowset.ScopeOrganization,
	}, testSchema())

	require.Empty(t, out)
	require.Len(t, sink.events, 1)
}

func TestFilterExcludesRowsWithoutPracticeField(t *testing.T) {
	svc := New(nil, nil, nil)
	rows := rowset.RowSet{
		{"practice_id": int64(1), "label": "kept"},
		{"label": "no-practice"},
		{"practice_id": "garbage", "label": "unreadable"},
	}

	out := svc.Filter(context.Background(), rows, rowset.PermissionContext{
		Scope:                 rowset.ScopeOrganization,
		AccessiblePracticeIDs: rowset.NewPracticeSet(1),
	}, testSchema())

	require.Len(t, out, 1)
	require.Equal(t, "kept", out[0]["label"])
}
