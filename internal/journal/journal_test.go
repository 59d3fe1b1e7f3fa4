package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsportal/internal/db"
	"opsportal/internal/domain"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndLatest(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	s.Now = func() time.Time { return time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC) }
	for _, e := range []domain.JournalEntry{
		{OrderID: "PO-1", Action: "accept", ActorRole: domain.RoleManager, ActorCode: "MGR-001", Outcome: "applied"},
		{OrderID: "PO-2", Action: "deliver", ActorRole: domain.RoleCrew, ActorCode: "CRW-001", Outcome: "rejected", ErrorKind: "invalid_transition"},
		{OrderID: "PO-1", Action: "cancel", ActorRole: domain.RoleCustomer, ActorCode: "CUS-001", Outcome: "failed", ErrorKind: "ETIMEOUT", Payload: `{"notes":"late"}`},
	} {
		require.NoError(t, s.Record(ctx, e))
	}

	all, err := s.Latest(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "cancel", all[0].Action)
	assert.Equal(t, "ETIMEOUT", all[0].ErrorKind)
	assert.JSONEq(t, `{"notes":"late"}`, all[0].Payload)
	assert.Equal(t, "2025-05-01T09:00:00Z", all[2].TS)
	assert.Equal(t, "", all[2].ErrorKind)
	assert.Equal(t, "{}", all[2].Payload)
	assert.NotEmpty(t, all[2].ID)

	po1, err := s.Latest(ctx, 1, "PO-1")
	require.NoError(t, err)
	require.Len(t, po1, 1)
	assert.Equal(t, domain.RoleCustomer, po1[0].ActorRole)
}

func TestRecordValidates(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	assert.Error(t, s.Record(ctx, domain.JournalEntry{Outcome: "applied"}))
	assert.Error(t, s.Record(ctx, domain.JournalEntry{OrderID: "PO-1", Outcome: "maybe"}))
}

func TestJournalIsAppendOnly(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, domain.JournalEntry{ID: "e1", OrderID: "PO-1", Action: "accept", Outcome: "applied"}))
	_, err := s.DB.ExecContext(ctx, `UPDATE journal SET outcome='failed' WHERE id='e1'`)
	assert.Error(t, err)
	_, err = s.DB.ExecContext(ctx, `DELETE FROM journal`)
	assert.Error(t, err)
	assert.Error(t, s.Record(ctx, domain.JournalEntry{ID: "e1", OrderID: "PO-1", Action: "accept", Outcome: "applied"}), "duplicate id")
}

func TestReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(ctx, db.Config{Workspace: dir})
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, domain.JournalEntry{OrderID: "SO-9", Action: "reject", Outcome: "applied"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, db.Config{Workspace: dir})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Latest(ctx, 10, "SO-9")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
