/*
scheduler.go - Periodic balance projection audit

PURPOSE:
  Periodically compares every client's running balance projection with a
  full scan of the log and rebuilds the ones that drifted. Drift only
  happens after a commit failure on a non-transactional store, but the
  scheduler runs regardless of the backend.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Audits the users seen by the API since startup (Watch is called from
    the router for every authenticated request)
  - Repairs a drifting projection with Service.RebuildBalance
  - Keeps the outcome of the last run for logging and tests

CONFIGURATION:
  - CheckInterval: How often to check (LEDGER_AUDIT_INTERVAL)
  - Enabled: Whether the scheduler is active

USAGE:
  scheduler := NewAuditScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GET /api/clients/{id}/balance?audit=true (manual audit)
  - sales/projection.go: BalanceAudit
*/
package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/sales"
)

// AuditRun summarizes one pass of the scheduler.
type AuditRun struct {
	StartedAt time.Time
	Audited   int
	Repaired  int
	Failed    int
}

// AuditScheduler audits balance projections in the background.
type AuditScheduler struct {
	Service       *sales.Service
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	usersMu sync.Mutex
	users   map[generic.UserID]struct{}
	last    AuditRun
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(svc *sales.Service, logger *zap.Logger) *AuditScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditScheduler{
		Service:       svc,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
		users:         make(map[generic.UserID]struct{}),
	}
}

// Watch adds user to the set audited on every run.
func (as *AuditScheduler) Watch(user generic.UserID) {
	as.usersMu.Lock()
	as.users[user] = struct{}{}
	as.usersMu.Unlock()
}

// Middleware watches the user of every authenticated request. It must run
// after RequireUser.
func (as *AuditScheduler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sess, ok := generic.SessionFromContext(r.Context()); ok {
			as.Watch(sess.UserID)
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins the scheduler. Starting a running scheduler is a no-op.
func (as *AuditScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		return
	}
	if !as.Enabled || as.CheckInterval <= 0 {
		as.Logger.Info("audit scheduler disabled")
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.stop = make(chan struct{})
	as.wg.Add(1)

	go as.run(as.ticker, as.stop)

	as.Logger.Info("audit scheduler started", zap.Duration("interval", as.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (as *AuditScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		as.ticker = nil
		as.Logger.Info("audit scheduler stopped")
	}
}

func (as *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer as.wg.Done()

	for {
		select {
		case <-ticker.C:
			as.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow audits every watched user immediately and returns the outcome.
func (as *AuditScheduler) RunNow(ctx context.Context) AuditRun {
	run := AuditRun{StartedAt: time.Now()}

	for _, user := range as.watched() {
		sess := generic.Session{UserID: user}
		clients, err := as.Service.ListClients(ctx, sess)
		if err != nil {
			as.Logger.Error("audit: list clients", zap.String("user_id", string(user)), zap.Error(err))
			run.Failed++
			continue
		}
		for _, c := range clients {
			as.auditClient(ctx, sess, c.ID, &run)
		}
	}

	as.usersMu.Lock()
	as.last = run
	as.usersMu.Unlock()

	if run.Repaired > 0 || run.Failed > 0 {
		as.Logger.Warn("audit completed",
			zap.Int("audited", run.Audited), zap.Int("repaired", run.Repaired), zap.Int("failed", run.Failed))
	}
	return run
}

func (as *AuditScheduler) auditClient(ctx context.Context, sess generic.Session, clientID string, run *AuditRun) {
	log := as.Logger.With(zap.String("user_id", string(sess.UserID)), zap.String("client_id", clientID))

	audit, err := as.Service.AuditBalance(ctx, sess, clientID)
	if err != nil {
		log.Error("audit: balance", zap.Error(err))
		run.Failed++
		return
	}
	run.Audited++
	if !audit.Drift {
		return
	}
	if _, err := as.Service.RebuildBalance(ctx, sess, clientID); err != nil {
		log.Error("audit: rebuild", zap.Error(err))
		run.Failed++
		return
	}
	log.Info("audit: projection rebuilt", zap.Strings("fields", audit.Fields))
	run.Repaired++
}

// LastRun returns the outcome of the most recent pass.
func (as *AuditScheduler) LastRun() AuditRun {
	as.usersMu.Lock()
	defer as.usersMu.Unlock()
	return as.last
}

func (as *AuditScheduler) watched() []generic.UserID {
	as.usersMu.Lock()
	defer as.usersMu.Unlock()
	out := make([]generic.UserID, 0, len(as.users))
	for u := range as.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
