package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/generic/store"
	"github.com/warp/sales-ledger/sales"
)

func TestAuditScheduler_RepairsDrift(t *testing.T) {
	// given a non-transactional store that loses the first projection write
	failed := false
	st := failStore{Memory: store.NewMemory(), fail: func(coll generic.Collection, _ generic.Record) bool {
		if coll == sales.CollBalances && !failed {
			failed = true
			return true
		}
		return false
	}}
	logger := zaptest.NewLogger(t)
	svc := sales.NewService(st, logger)
	h := NewHandler(svc, logger)
	auditor := NewAuditScheduler(svc, logger)
	router := NewRouter(h, RouterConfig{Auditor: auditor})
	srv := &testServer{t: t, router: router}
	srv.seed("1000", "100", 5)

	rec := srv.do(http.MethodPost, "/api/sales", "alice", map[string]any{
		"sale_id": "s1", "client_id": "c1", "product_key": "p1", "quantity": 1, "credit_amount": 100,
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	assert.Equal(t, "balance", decodeBody[ErrorResponse](t, rec).Step)

	// when
	run := auditor.RunNow(context.Background())

	// then the projection is rebuilt from the log
	assert.Equal(t, 1, run.Audited)
	assert.Equal(t, 1, run.Repaired)
	assert.Zero(t, run.Failed)
	assert.Equal(t, run, auditor.LastRun())

	audit, err := svc.AuditBalance(context.Background(), generic.Session{UserID: "alice"}, "c1")
	require.NoError(t, err)
	assert.False(t, audit.Drift)
	assertDecimal(t, "100", audit.Projected.CreditGranted)

	// a second pass finds nothing to repair
	run = auditor.RunNow(context.Background())
	assert.Equal(t, 1, run.Audited)
	assert.Zero(t, run.Repaired)
}

func TestAuditScheduler_OnlyWatchedUsers(t *testing.T) {
	svc := sales.NewService(store.NewTxMemory(), nil)
	auditor := NewAuditScheduler(svc, nil)
	ctx := context.Background()
	for _, user := range []generic.UserID{"alice", "bob"} {
		_, err := svc.CreateClient(ctx, generic.Session{UserID: user}, sales.Client{ID: "c1", Name: "Ana"})
		require.NoError(t, err)
	}

	assert.Zero(t, auditor.RunNow(ctx).Audited)

	auditor.Watch("bob")
	assert.Equal(t, 1, auditor.RunNow(ctx).Audited)
}

func TestAuditScheduler_StartStop(t *testing.T) {
	svc := sales.NewService(store.NewTxMemory(), nil)
	auditor := NewAuditScheduler(svc, zaptest.NewLogger(t))
	auditor.CheckInterval = 10 * time.Millisecond
	auditor.Watch("alice")

	auditor.Start()
	first := auditor.ticker
	auditor.Start()
	assert.Same(t, first, auditor.ticker, "second Start keeps the running loop")
	require.Eventually(t, func() bool {
		return !auditor.LastRun().StartedAt.IsZero()
	}, time.Second, 5*time.Millisecond)
	auditor.Stop()
	auditor.Stop()
	assert.Nil(t, auditor.ticker)

	// a stopped scheduler can be started again
	auditor.Start()
	assert.NotNil(t, auditor.ticker)
	auditor.Stop()

	disabled := NewAuditScheduler(svc, nil)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
