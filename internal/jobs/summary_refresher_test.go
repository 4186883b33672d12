package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type mockExecutor struct {
	calls   int
	lastSQL string
	err     error
}

func (m *mockExecutor) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.calls++
	m.lastSQL = sql
	if m.err != nil {
		return pgconn.CommandTag{}, m.err
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func TestRunOnce_RefreshesSummary(t *testing.T) {
	db := &mockExecutor{}
	r := NewSummaryRefresher(zap.NewNop(), db, nil, time.Hour)

	r.runOnce(context.Background())

	assert.Equal(t, 1, db.calls)
	assert.Contains(t, db.lastSQL, "fn_refresh_offer_summary")
}

func TestRunOnce_DBErrorDoesNotPanic(t *testing.T) {
	db := &mockExecutor{err: fmt.Errorf("pg down")}
	r := NewSummaryRefresher(zap.NewNop(), db, nil, time.Hour)

	r.runOnce(context.Background())
	assert.Equal(t, 1, db.calls)
}

func TestStart_StopsOnStop(t *testing.T) {
	db := &mockExecutor{}
	r := NewSummaryRefresher(zap.NewNop(), db, nil, time.Hour)

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()

	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	db := &mockExecutor{}
	r := NewSummaryRefresher(zap.NewNop(), db, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop on context cancel")
	}
}
