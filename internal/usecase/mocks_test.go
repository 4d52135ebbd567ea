//go:build !integration

package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// fakeClock is a settable clock for deterministic schedules.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// memTxManager runs the function without a real transaction; tx is nil so
// repositories take their non-locking path.
type memTxManager struct{}

func (memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// recorderEmitter collects emitted events for assertions.
type recorderEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recorderEmitter) Emit(_ context.Context, eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recorderEmitter) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// mockGateway scripts charge outcomes per call.
type mockGateway struct {
	mu       sync.Mutex
	chargeFn func(idempotencyKey string) (string, error)
	calls    []string // idempotency keys seen
}

func (g *mockGateway) Name() string { return "mock" }

func (g *mockGateway) Charge(_ context.Context, _ string, _ int64, _, idempotencyKey string, _ map[string]any) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, idempotencyKey)
	fn := g.chargeFn
	g.mu.Unlock()
	if fn != nil {
		return fn(idempotencyKey)
	}
	return "ref-" + idempotencyKey, nil
}

// mockSender scripts webhook delivery outcomes.
type mockSender struct {
	mu     sync.Mutex
	sendFn func(endpoint string) error
	sent   int
}

func (s *mockSender) Send(_ context.Context, endpoint, _, _ string, _ []byte) error {
	s.mu.Lock()
	s.sent++
	fn := s.sendFn
	s.mu.Unlock()
	if fn != nil {
		return fn(endpoint)
	}
	return nil
}

// ---- in-memory repositories ----

type memAccountRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{store: make(map[string]*model.Account)}
}

func (m *memAccountRepo) Save(_ context.Context, _ repository.Tx, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *memAccountRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

type memPlanRepo struct {
	mu    sync.RWMutex
	store map[string][]*model.Plan // id -> versions ascending
}

func newMemPlanRepo() *memPlanRepo {
	return &memPlanRepo{store: make(map[string][]*model.Plan)}
}

func (m *memPlanRepo) Save(_ context.Context, _ repository.Tx, p *model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	versions := m.store[p.ID]
	for i, v := range versions {
		if v.Version == p.Version {
			versions[i] = &cp
			return nil
		}
	}
	m.store[p.ID] = append(versions, &cp)
	sort.Slice(m.store[p.ID], func(i, j int) bool { return m.store[p.ID][i].Version < m.store[p.ID][j].Version })
	return nil
}

func (m *memPlanRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.store[id]
	if len(versions) == 0 {
		return nil, domain.ErrNotFound
	}
	cp := *versions[len(versions)-1]
	return &cp, nil
}

func (m *memPlanRepo) FindVersion(_ context.Context, _ repository.Tx, id string, version int) (*model.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.store[id] {
		if v.Version == version {
			cp := *v
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPlanRepo) ListActive(_ context.Context, _ repository.Tx) ([]*model.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Plan
	for _, versions := range m.store {
		latest := versions[len(versions)-1]
		if latest.Active {
			cp := *latest
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memSubscriptionRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Subscription
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{store: make(map[string]*model.Subscription)}
}

func (m *memSubscriptionRepo) Save(_ context.Context, _ repository.Tx, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *memSubscriptionRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriptionRepo) ListByAccount(_ context.Context, _ repository.Tx, accountID string) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.AccountID == accountID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) ListDueForAdvance(_ context.Context, _ repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if len(out) >= limit {
			break
		}
		switch s.Status {
		case model.SubscriptionStatusCancelled, model.SubscriptionStatusPaused:
			continue
		}
		if !s.CurrentPeriodEnd.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) ListDueForResume(_ context.Context, _ repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if len(out) >= limit {
			break
		}
		if s.Status == model.SubscriptionStatusPaused && s.ResumeAt != nil && !s.ResumeAt.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) MonthlyRecurringRevenue(context.Context, repository.Tx) (map[string]int64, error) {
	return map[string]int64{}, nil
}

type memUsageRepo struct {
	mu    sync.RWMutex
	byKey map[string]*model.UsageRecord
	recs  []*model.UsageRecord
}

func newMemUsageRepo() *memUsageRepo {
	return &memUsageRepo{byKey: make(map[string]*model.UsageRecord)}
}

func (m *memUsageRepo) Insert(_ context.Context, _ repository.Tx, r *model.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[r.IdempotencyKey]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *r
	m.byKey[r.IdempotencyKey] = &cp
	m.recs = append(m.recs, &cp)
	return nil
}

func (m *memUsageRepo) FindByIdempotencyKey(_ context.Context, _ repository.Tx, key string) (*model.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memUsageRepo) SumRange(_ context.Context, _ repository.Tx, subscriptionID, metric string, start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, r := range m.recs {
		if r.SubscriptionID != subscriptionID || r.Metric != metric {
			continue
		}
		if r.OccurredAt.Before(start) || !r.OccurredAt.Before(end) {
			continue
		}
		sum += r.Quantity
	}
	return sum, nil
}

type memCreditRepo struct {
	mu    sync.RWMutex
	store []*model.Credit // creation order
}

func newMemCreditRepo() *memCreditRepo { return &memCreditRepo{} }

func (m *memCreditRepo) Save(_ context.Context, _ repository.Tx, c *model.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.store = append(m.store, &cp)
	return nil
}

func (m *memCreditRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.store {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCreditRepo) ListApplicable(_ context.Context, _ repository.Tx, accountID string, now time.Time) ([]*model.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Credit
	for _, c := range m.store {
		if c.AccountID != accountID || c.AppliedTo != nil {
			continue
		}
		if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memCreditRepo) MarkApplied(_ context.Context, _ repository.Tx, creditID, invoiceID string, appliedAmount int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.store {
		if c.ID == creditID {
			if c.AppliedTo != nil {
				return domain.ErrIllegalTransition
			}
			inv := invoiceID
			c.AppliedTo = &inv
			c.AppliedAmount = appliedAmount
			t := at
			c.AppliedAt = &t
			return nil
		}
	}
	return domain.ErrNotFound
}

type memInvoiceRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Invoice
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{store: make(map[string]*model.Invoice)}
}

func copyInvoice(inv *model.Invoice) *model.Invoice {
	cp := *inv
	cp.Lines = append([]model.LineItem(nil), inv.Lines...)
	return &cp
}

func (m *memInvoiceRepo) Save(_ context.Context, _ repository.Tx, inv *model.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.store {
		if e.SubscriptionID == inv.SubscriptionID && e.PeriodStart.Equal(inv.PeriodStart) {
			return domain.ErrAlreadyExists
		}
	}
	m.store[inv.ID] = copyInvoice(inv)
	return nil
}

func (m *memInvoiceRepo) Update(_ context.Context, _ repository.Tx, inv *model.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[inv.ID]; !ok {
		return domain.ErrNotFound
	}
	m.store[inv.ID] = copyInvoice(inv)
	return nil
}

func (m *memInvoiceRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyInvoice(inv), nil
}

func (m *memInvoiceRepo) FindBySubscriptionPeriod(_ context.Context, _ repository.Tx, subscriptionID string, periodStart time.Time) (*model.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.store {
		if inv.SubscriptionID == subscriptionID && inv.PeriodStart.Equal(periodStart) {
			return copyInvoice(inv), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memInvoiceRepo) CountUnsettledByAccount(_ context.Context, _ repository.Tx, accountID string, excludeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int
	for _, inv := range m.store {
		if inv.AccountID != accountID || inv.ID == excludeID {
			continue
		}
		if inv.Status == model.InvoiceStatusOpen || inv.Status == model.InvoiceStatusPastDue {
			n++
		}
	}
	return n, nil
}

func (m *memInvoiceRepo) SumOutstanding(context.Context, repository.Tx) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64)
	for _, inv := range m.store {
		if inv.Status == model.InvoiceStatusOpen || inv.Status == model.InvoiceStatusPastDue {
			out[inv.Currency] += inv.AmountDue - inv.AmountPaid
		}
	}
	return out, nil
}

type memPaymentRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Payment
	seq   map[string]int // insertion order, for latest-by-invoice
	next  int
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{store: make(map[string]*model.Payment), seq: make(map[string]int)}
}

func (m *memPaymentRepo) Save(_ context.Context, _ repository.Tx, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.store {
		if e.IdempotencyKey == p.IdempotencyKey {
			return domain.ErrAlreadyExists
		}
	}
	cp := *p
	m.store[p.ID] = &cp
	m.next++
	m.seq[p.ID] = m.next
	return nil
}

func (m *memPaymentRepo) Update(_ context.Context, _ repository.Tx, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[p.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *memPaymentRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) FindByIdempotencyKey(_ context.Context, _ repository.Tx, key string) (*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.store {
		if p.IdempotencyKey == key {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) FindLatestByInvoice(_ context.Context, _ repository.Tx, invoiceID string) (*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *model.Payment
	var latestSeq int
	for id, p := range m.store {
		if p.InvoiceID != invoiceID {
			continue
		}
		if latest == nil || m.seq[id] > latestSeq {
			latest = p
			latestSeq = m.seq[id]
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memPaymentRepo) ListDueRetries(_ context.Context, _ repository.Tx, now time.Time, limit int) ([]*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Payment
	for _, p := range m.store {
		if len(out) >= limit {
			break
		}
		if p.Status == model.PaymentStatusFailed && p.NextRetryAt != nil && !p.NextRetryAt.After(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPaymentRepo) ListStalePending(_ context.Context, _ repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Payment
	for _, p := range m.store {
		if len(out) >= limit {
			break
		}
		if p.Status == model.PaymentStatusPending && !p.UpdatedAt.After(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPaymentRepo) ClearScheduledRetry(_ context.Context, _ repository.Tx, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[paymentID]
	if !ok {
		return domain.ErrNotFound
	}
	p.NextRetryAt = nil
	return nil
}

func (m *memPaymentRepo) SumRevenueByPeriod(context.Context, repository.Tx, string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64)
	for _, p := range m.store {
		if p.Status == model.PaymentStatusSucceeded {
			out[p.Currency] += p.Amount
		}
	}
	return out, nil
}

type memWebhookRepo struct {
	mu    sync.RWMutex
	store map[string]*model.WebhookEvent
	order []string
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{store: make(map[string]*model.WebhookEvent)}
}

func (m *memWebhookRepo) Save(_ context.Context, _ repository.Tx, e *model.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[e.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *e
	m.store[e.ID] = &cp
	m.order = append(m.order, e.ID)
	return nil
}

func (m *memWebhookRepo) Update(_ context.Context, _ repository.Tx, e *model.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[e.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *e
	m.store[e.ID] = &cp
	return nil
}

func (m *memWebhookRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memWebhookRepo) ListDue(_ context.Context, _ repository.Tx, now time.Time, limit int) ([]*model.WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.WebhookEvent
	for _, id := range m.order {
		if len(out) >= limit {
			break
		}
		e := m.store[id]
		if e.Status == model.WebhookStatusPending && e.NextRetryAt != nil && !e.NextRetryAt.After(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memWebhookRepo) ListFailed(_ context.Context, _ repository.Tx, limit int) ([]*model.WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.WebhookEvent
	for _, id := range m.order {
		if len(out) >= limit {
			break
		}
		e := m.store[id]
		if e.Status == model.WebhookStatusFailed {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
