package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digkill/genledger/internal/kie"
	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/n8n"
	"github.com/digkill/genledger/internal/repository"
	"github.com/digkill/genledger/internal/yookassa"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errLedgerDown = errors.New("ledger unavailable")

type fakeLedger struct {
	mu      sync.Mutex
	nextID  int64
	entries []models.LedgerEntry
	events  map[string]bool
	// failAppendOnce is how many upcoming AppendOnce calls fail without writing.
	failAppendOnce int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{events: make(map[string]bool)}
}

func (f *fakeLedger) balanceLocked(accountID int64) int64 {
	var sum int64
	for _, e := range f.entries {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	return sum
}

func (f *fakeLedger) appendLocked(e *models.LedgerEntry) {
	f.nextID++
	e.ID = f.nextID
	e.CreatedAt = time.Now()
	f.entries = append(f.entries, *e)
}

func (f *fakeLedger) Balance(_ context.Context, accountID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceLocked(accountID), nil
}

func (f *fakeLedger) Append(_ context.Context, e *models.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendLocked(e)
	return nil
}

func (f *fakeLedger) AppendOnce(_ context.Context, eventID string, e *models.LedgerEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppendOnce > 0 {
		f.failAppendOnce--
		return false, errLedgerDown
	}
	if f.events[eventID] {
		return false, nil
	}
	f.events[eventID] = true
	f.appendLocked(e)
	return true, nil
}

func (f *fakeLedger) Reserve(_ context.Context, e *models.LedgerEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal := f.balanceLocked(e.AccountID)
	if bal+e.Amount < 0 {
		return bal, repository.ErrInsufficientBalance
	}
	f.appendLocked(e)
	return bal, nil
}

func (f *fakeLedger) History(_ context.Context, accountID int64, limit, offset int) ([]models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LedgerEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].AccountID == accountID {
			out = append(out, f.entries[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLedger) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAppendOnce = n
}

func (f *fakeLedger) kinds(accountID int64, kind models.EntryKind) []models.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range f.entries {
		if e.AccountID == accountID && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeEvents struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{seen: make(map[string]bool)}
}

func (f *fakeEvents) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[id], nil
}

func (f *fakeEvents) Mark(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[id] = true
	return nil
}

type fakeGenerations struct {
	mu     sync.Mutex
	nextID int64
	units  map[int64]*models.Generation
	// beforeResolve runs ahead of every Resolve, outside the lock.
	beforeResolve func(id int64)
}

func newFakeGenerations() *fakeGenerations {
	return &fakeGenerations{units: make(map[int64]*models.Generation)}
}

func (f *fakeGenerations) CreateBatch(_ context.Context, units []*models.Generation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range units {
		f.nextID++
		u.ID = f.nextID
		u.CreatedAt = time.Now()
		cp := *u
		f.units[u.ID] = &cp
	}
	return nil
}

func (f *fakeGenerations) Get(_ context.Context, id int64) (*models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeGenerations) GetForAccount(ctx context.Context, accountID, id int64) (*models.Generation, error) {
	u, err := f.Get(ctx, id)
	if err != nil || u == nil || u.AccountID != accountID {
		return nil, err
	}
	return u, nil
}

func (f *fakeGenerations) filter(keep func(*models.Generation) bool) []models.Generation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Generation
	for _, u := range f.units {
		if keep(u) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeGenerations) ListBatch(_ context.Context, accountID int64, batchID string) ([]models.Generation, error) {
	return f.filter(func(u *models.Generation) bool { return u.AccountID == accountID && u.BatchID == batchID }), nil
}

func (f *fakeGenerations) ListInFlight(_ context.Context, accountID int64, limit int) ([]models.Generation, error) {
	out := f.filter(func(u *models.Generation) bool { return u.AccountID == accountID && !u.Status.Terminal() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGenerations) ListHistory(_ context.Context, accountID int64, limit, offset int, now time.Time) ([]models.Generation, error) {
	out := f.filter(func(u *models.Generation) bool { return u.AccountID == accountID && u.ExpiresAt.After(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGenerations) AttachTask(_ context.Context, id int64, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[id]
	if !ok {
		return nil
	}
	u.ExternalTaskID = taskID
	if u.Status == models.GenerationPending {
		u.Status = models.GenerationProcessing
	}
	return nil
}

func (f *fakeGenerations) Resolve(_ context.Context, id int64, res models.Resolution) (bool, error) {
	if f.beforeResolve != nil {
		f.beforeResolve(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[id]
	if !ok || u.Status.Terminal() {
		return false, nil
	}
	u.Status = res.Status
	u.ResultURL = res.ResultURL
	u.Error = res.Error
	if len(res.ResultData) > 0 {
		u.ResultData = res.ResultData
	}
	return true, nil
}

func (f *fakeGenerations) SaveRawResult(_ context.Context, id int64, raw json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.units[id]; ok {
		u.ResultData = raw
	}
	return nil
}

func (f *fakeGenerations) Delete(_ context.Context, accountID int64, ids []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if u, ok := f.units[id]; ok && u.AccountID == accountID {
			delete(f.units, id)
			n++
		}
	}
	return n, nil
}

// put stores a unit directly, bypassing the orchestrator.
func (f *fakeGenerations) put(u models.Generation) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u.ID = f.nextID
	f.units[u.ID] = &u
	return u.ID
}

type fakeProvider struct {
	configured  bool
	createTask  func(ctx context.Context, req kie.TaskRequest) (string, error)
	statuses    map[string][]byte
	calls       atomic.Int32
	statusCalls atomic.Int32
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) CreateTask(ctx context.Context, req kie.TaskRequest) (string, error) {
	n := f.calls.Add(1)
	if f.createTask != nil {
		return f.createTask(ctx, req)
	}
	return fmt.Sprintf("task-%d", n), nil
}

func (f *fakeProvider) TaskStatus(_ context.Context, taskID string) ([]byte, error) {
	f.statusCalls.Add(1)
	raw, ok := f.statuses[taskID]
	if !ok {
		return nil, errors.New("task not found")
	}
	return raw, nil
}

type fakeCallbacks struct{}

func (fakeCallbacks) URL(unitID int64) string {
	return fmt.Sprintf("https://app.test/api/generate/callback/%d?token=t", unitID)
}

type fakeWorkflows struct {
	mu        sync.Mutex
	nextRunID int64
	workflows map[string]*models.Workflow
	runs      map[int64]*models.WorkflowRun
	custom    []models.CustomWorkflowRequest
}

func newFakeWorkflows(ws ...models.Workflow) *fakeWorkflows {
	f := &fakeWorkflows{workflows: make(map[string]*models.Workflow), runs: make(map[int64]*models.WorkflowRun)}
	for i := range ws {
		w := ws[i]
		w.ID = int64(i + 1)
		f.workflows[w.Slug] = &w
	}
	return f
}

func (f *fakeWorkflows) GetBySlug(_ context.Context, slug string) (*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workflows[slug]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWorkflows) ListActive(_ context.Context) ([]models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Workflow
	for _, w := range f.workflows {
		if w.IsActive {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (f *fakeWorkflows) Upsert(_ context.Context, w *models.Workflow) (*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.workflows[w.Slug]; ok {
		w.ID = existing.ID
	} else {
		w.ID = int64(len(f.workflows) + 1)
	}
	cp := *w
	f.workflows[w.Slug] = &cp
	return w, nil
}

func (f *fakeWorkflows) CreateRun(_ context.Context, run *models.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRunID++
	run.ID = f.nextRunID
	run.Status = models.RunQueued
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeWorkflows) GetRun(_ context.Context, id int64) (*models.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (f *fakeWorkflows) ListRuns(_ context.Context, accountID int64, limit int) ([]models.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkflowRun
	for _, run := range f.runs {
		if run.AccountID == accountID {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeWorkflows) MarkRunning(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[id]; ok && run.Status == models.RunQueued {
		run.Status = models.RunRunning
	}
	return nil
}

func (f *fakeWorkflows) DeleteRun(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[id]; ok && run.Status == models.RunQueued {
		delete(f.runs, id)
	}
	return nil
}

func (f *fakeWorkflows) ResolveRun(_ context.Context, id int64, status models.RunStatus, output json.RawMessage, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok || run.Status.Terminal() {
		return false, nil
	}
	run.Status = status
	if len(output) > 0 {
		run.Output = output
	}
	run.Error = errMsg
	return true, nil
}

func (f *fakeWorkflows) CreateCustomRequest(_ context.Context, req *models.CustomWorkflowRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.ID = int64(len(f.custom) + 1)
	req.Status = "pending"
	f.custom = append(f.custom, *req)
	return nil
}

func (f *fakeWorkflows) run(id int64) models.WorkflowRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.runs[id]
}

type fakeEngine struct {
	mu       sync.Mutex
	err      error
	triggers []n8n.Trigger
}

func (f *fakeEngine) Trigger(_ context.Context, _ string, t n8n.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, t)
	return f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// fakePromos keeps the grant-key uniqueness in the shared fake ledger, like the
// unique index does in MySQL.
type fakePromos struct {
	mu     sync.Mutex
	ledger *fakeLedger
	promos map[int64]*models.PromoCode
	nextID int64
}

func newFakePromos(ledger *fakeLedger) *fakePromos {
	return &fakePromos{ledger: ledger, promos: make(map[int64]*models.PromoCode)}
}

func (f *fakePromos) GetByID(_ context.Context, id int64) (*models.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.promos[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakePromos) List(_ context.Context) ([]models.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PromoCode
	for _, p := range f.promos {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePromos) Create(_ context.Context, p *models.PromoCode) (*models.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.promos[p.ID] = &cp
	return p, nil
}

func (f *fakePromos) Update(_ context.Context, p *models.PromoCode) (*models.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.promos[p.ID] = &cp
	return p, nil
}

func (f *fakePromos) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.promos, id)
	return nil
}

func (f *fakePromos) Redeem(_ context.Context, accountID int64, code string) (*models.PromoCode, *models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var promo *models.PromoCode
	for _, p := range f.promos {
		if p.Code == code {
			promo = p
		}
	}
	if promo == nil {
		return nil, nil, repository.ErrPromoNotFound
	}
	if promo.MaxUses > 0 && promo.Uses >= promo.MaxUses {
		return nil, nil, repository.ErrPromoExhausted
	}

	f.ledger.mu.Lock()
	defer f.ledger.mu.Unlock()
	key := "promo:" + promo.Code
	for _, e := range f.ledger.entries {
		if e.AccountID == accountID && e.GrantKey == key {
			return nil, nil, repository.ErrAlreadyRedeemed
		}
	}
	entry := &models.LedgerEntry{AccountID: accountID, Kind: models.EntryGrant, Amount: promo.Credits, GrantKey: key}
	f.ledger.appendLocked(entry)
	promo.Uses++
	cp := *promo
	return &cp, entry, nil
}

type fakePlans struct {
	mu     sync.Mutex
	plans  []models.Plan
	billed map[int64]bool
}

func (f *fakePlans) List(_ context.Context, activeOnly bool) ([]models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Plan
	for _, p := range f.plans {
		if !activeOnly || p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePlans) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plans), nil
}

func (f *fakePlans) GetByID(_ context.Context, id int64) (*models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plans {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePlans) Create(_ context.Context, p *models.Plan) (*models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = int64(len(f.plans) + 1)
	f.plans = append(f.plans, *p)
	return p, nil
}

func (f *fakePlans) Update(_ context.Context, p *models.Plan) (*models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.plans {
		if f.plans[i].ID == p.ID {
			f.plans[i] = *p
		}
	}
	return p, nil
}

func (f *fakePlans) Delete(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.plans {
		if f.plans[i].ID != id {
			continue
		}
		if f.billed[id] {
			f.plans[i].IsActive = false
			return true, nil
		}
		f.plans = append(f.plans[:i], f.plans[i+1:]...)
		return false, nil
	}
	return false, repository.ErrPlanNotFound
}

type fakePayments struct {
	mu       sync.Mutex
	payments map[int64]*models.Payment
}

func newFakePayments() *fakePayments {
	return &fakePayments{payments: make(map[int64]*models.Payment)}
}

func (f *fakePayments) Create(_ context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = int64(len(f.payments) + 1)
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakePayments) SetStatus(_ context.Context, id int64, status, payload string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status == models.PaymentPaid {
		return false, nil
	}
	p.Status = status
	p.RawPayload = payload
	return true, nil
}

func (f *fakePayments) ListForAccount(_ context.Context, accountID int64, limit int) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for id := int64(len(f.payments)); id > 0 && len(out) < limit; id-- {
		if p, ok := f.payments[id]; ok && p.AccountID == accountID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePayments) FindByProviderCharge(_ context.Context, provider, chargeID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.Provider == provider && p.ProviderCharge == chargeID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	created  []yookassa.CreatePaymentRequest
	payments map[string]*yookassa.Payment
	getCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]*yookassa.Payment)}
}

func (f *fakeGateway) Configured() bool { return true }

func (f *fakeGateway) CreatePayment(_ context.Context, in yookassa.CreatePaymentRequest) (*yookassa.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	p := &yookassa.Payment{ID: fmt.Sprintf("pay-%d", len(f.created)), Status: "pending", Amount: in.Amount, Metadata: in.Metadata}
	p.Confirmation.Type = "redirect"
	p.Confirmation.URL = "https://yoomoney.test/checkout/" + p.ID
	f.payments[p.ID] = p
	return p, nil
}

func (f *fakeGateway) GetPayment(_ context.Context, id string) (*yookassa.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	p, ok := f.payments[id]
	if !ok {
		return nil, errors.New("payment not found")
	}
	cp := *p
	return &cp, nil
}

func (f *fakeGateway) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[id].Status = status
	f.payments[id].Paid = status == "succeeded"
}

type fakeCredits struct {
	configured bool
	credits    float64
	err        error
}

func (f *fakeCredits) Configured() bool { return f.configured }

func (f *fakeCredits) Credits(context.Context) (float64, error) { return f.credits, f.err }

type fakeAccounts struct {
	mu       sync.Mutex
	accounts []models.Account
}

func (f *fakeAccounts) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = int64(len(f.accounts) + 1)
	f.accounts = append(f.accounts, *a)
	return a, nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeTokens struct{}

func (fakeTokens) Issue(accountID int64) (string, time.Time, error) {
	return fmt.Sprintf("token-%d", accountID), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}
