package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/cryptox"
	"github.com/dmitrijs2005/leasekeeper/internal/dbx"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/config"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/server/notify"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/owners"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/resources"
	"github.com/dmitrijs2005/leasekeeper/internal/server/rotation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

// memStore is an in-memory database shared by the fake repositories. Its
// resource transitions follow the same conditional-update rules as the
// PostgreSQL repository.
type memStore struct {
	mu        sync.Mutex
	owners    map[int64]*models.Owner
	resources map[int64]*models.Resource
	entries   []models.LedgerEntry
	nextID    int64

	insertErr  error
	releaseErr error
	acquires   int
}

func newMemStore() *memStore {
	return &memStore{
		owners:    map[int64]*models.Owner{},
		resources: map[int64]*models.Resource{},
		nextID:    1,
	}
}

func (m *memStore) owner(tg int64) *models.Owner {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *m.owners[tg]
	return &o
}

func (m *memStore) resource(id int64) *models.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *m.resources[id]
	return &r
}

func (m *memStore) ledgerEntries() []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.LedgerEntry(nil), m.entries...)
}

type memManager struct{ s *memStore }

func (m memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m memManager) Owners(dbx.DBTX) owners.Repository           { return memOwners{m.s} }
func (m memManager) Resources(dbx.DBTX) resources.Repository     { return memResources{m.s} }
func (m memManager) Ledger(dbx.DBTX) ledger.Repository           { return memLedger{m.s} }

type memOwners struct{ s *memStore }

func (r memOwners) Ensure(_ context.Context, tg int64) (*models.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[tg]
	if !ok {
		o = &models.Owner{ID: int64(len(r.s.owners) + 1), TelegramID: tg, IsActive: true}
		r.s.owners[tg] = o
	}
	cp := *o
	return &cp, nil
}

func (r memOwners) Get(_ context.Context, tg int64) (*models.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[tg]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *o
	return &cp, nil
}

func (r memOwners) GetForUpdate(ctx context.Context, tg int64) (*models.Owner, error) {
	return r.Get(ctx, tg)
}

func (r memOwners) AdjustBalance(_ context.Context, tg int64, delta decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[tg]
	if !ok {
		return common.ErrorNotFound
	}
	o.Balance = o.Balance.Add(delta)
	return nil
}

func (r memOwners) SetSubscriptionEnd(_ context.Context, tg int64, end time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[tg]
	if !ok {
		return common.ErrorNotFound
	}
	o.SubscriptionEnd = &end
	return nil
}

func (r memOwners) SetMarketplaceCredentials(_ context.Context, tg int64, userIDEnc, keyEnc []byte) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[tg]
	if !ok {
		return common.ErrorNotFound
	}
	o.MarketplaceUserIDEnc = userIDEnc
	o.MarketplaceKeyEnc = keyEnc
	return nil
}

func (r memOwners) List(context.Context) ([]models.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Owner
	for _, o := range r.s.owners {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TelegramID < out[j].TelegramID })
	return out, nil
}

type memResources struct{ s *memStore }

func (r memResources) Create(_ context.Context, res *models.Resource) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.resources {
		if x.Login == res.Login {
			return 0, common.ErrConflict
		}
	}
	cp := *res
	cp.ID = r.s.nextID
	cp.Status = models.StatusAvailable
	r.s.nextID++
	r.s.resources[cp.ID] = &cp
	return cp.ID, nil
}

func (r memResources) Get(_ context.Context, id int64) (*models.Resource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	x, ok := r.s.resources[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *x
	return &cp, nil
}

// update applies fn when pred holds, all under the store lock.
func (r memResources) update(id int64, pred func(*models.Resource) bool, fn func(*models.Resource)) (*models.Resource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	x, ok := r.s.resources[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if !pred(x) {
		return nil, common.ErrConflict
	}
	fn(x)
	x.Version++
	cp := *x
	return &cp, nil
}

func clearLease(x *models.Resource) {
	x.Status = models.StatusAvailable
	x.Renter, x.LeaseEnd, x.OrderRef, x.CurrentSecret = nil, nil, nil, nil
}

func (r memResources) TryAcquire(_ context.Context, id int64, l models.Lease) (*models.Resource, error) {
	r.s.mu.Lock()
	r.s.acquires++
	r.s.mu.Unlock()
	return r.update(id,
		func(x *models.Resource) bool { return x.Status == models.StatusAvailable },
		func(x *models.Resource) {
			x.Status = models.StatusRented
			x.Renter, x.OrderRef, x.CurrentSecret = &l.Renter, &l.OrderRef, &l.CurrentSecret
			end := l.LeaseEnd
			x.LeaseEnd = &end
		})
}

func (r memResources) Rollback(_ context.Context, id int64, orderRef string) error {
	_, err := r.update(id,
		func(x *models.Resource) bool {
			return x.Status == models.StatusRented && x.OrderRef != nil && *x.OrderRef == orderRef
		},
		clearLease)
	return err
}

func (r memResources) Release(_ context.Context, id int64, version int64, enc []byte) error {
	if r.s.releaseErr != nil {
		return r.s.releaseErr
	}
	_, err := r.update(id,
		func(x *models.Resource) bool { return x.Status == models.StatusRented && x.Version == version },
		func(x *models.Resource) {
			clearLease(x)
			x.BaseSecretEnc = enc
		})
	return err
}

func (r memResources) Block(_ context.Context, id int64) error {
	_, err := r.update(id,
		func(x *models.Resource) bool { return x.Status == models.StatusAvailable },
		func(x *models.Resource) { x.Status = models.StatusBlocked })
	return err
}

func (r memResources) Unblock(_ context.Context, id int64) error {
	_, err := r.update(id,
		func(x *models.Resource) bool { return x.Status == models.StatusBlocked },
		func(x *models.Resource) { x.Status = models.StatusAvailable })
	return err
}

func (r memResources) ListExpired(_ context.Context, now time.Time) ([]models.Resource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Resource
	for _, x := range r.s.resources {
		if x.Status == models.StatusRented && x.LeaseEnd != nil && x.LeaseEnd.Before(now) {
			out = append(out, *x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memResources) List(context.Context) ([]models.Resource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Resource
	for _, x := range r.s.resources {
		out = append(out, *x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memResources) StatsByOwner(_ context.Context, tg int64) (models.ResourceStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var st models.ResourceStats
	for _, x := range r.s.resources {
		if x.OwnerTelegramID != tg {
			continue
		}
		st.Total++
		switch x.Status {
		case models.StatusRented:
			st.Rented++
		case models.StatusAvailable:
			st.Available++
		case models.StatusBlocked:
			st.Blocked++
		}
	}
	return st, nil
}

type memLedger struct{ s *memStore }

func (l memLedger) Insert(_ context.Context, e *models.LedgerEntry) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.insertErr != nil {
		return l.s.insertErr
	}
	unique := e.Status == models.EntryCompleted && e.ExternalRef != nil &&
		(e.Kind == models.KindRental || e.Kind == models.KindTopUp)
	if unique {
		for _, x := range l.s.entries {
			if x.Status == models.EntryCompleted && x.Kind == e.Kind && x.ExternalRef != nil && *x.ExternalRef == *e.ExternalRef {
				return common.ErrDuplicateReference
			}
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	l.s.entries = append(l.s.entries, *e)
	return nil
}

func (l memLedger) HasCompleted(_ context.Context, kind models.EntryKind, ref string) (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, x := range l.s.entries {
		if x.Kind == kind && x.Status == models.EntryCompleted && x.ExternalRef != nil && *x.ExternalRef == ref {
			return true, nil
		}
	}
	return false, nil
}

func (l memLedger) ListByOwner(_ context.Context, tg int64, limit int) ([]models.LedgerEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []models.LedgerEntry
	for i := len(l.s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if l.s.entries[i].OwnerTelegramID == tg {
			out = append(out, l.s.entries[i])
		}
	}
	return out, nil
}

func (l memLedger) List(context.Context) ([]models.LedgerEntry, error) {
	return l.s.ledgerEntries(), nil
}

type fakeRotator struct {
	mu      sync.Mutex
	calls   []rotation.Credentials
	err     error
	hold    chan struct{}
	waiting atomic.Int32
}

func (f *fakeRotator) Rotate(ctx context.Context, c rotation.Credentials) error {
	if f.hold != nil {
		f.waiting.Add(1)
		select {
		case <-f.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeRotator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRotator) last() rotation.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeNotifier struct {
	mu         sync.Mutex
	owner      []string
	renter     []string
	sellers    []*notify.Account
	operators  []string
	delivered  []string
	deliverErr error
}

func (f *fakeNotifier) NotifyOwner(_ context.Context, _ int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = append(f.owner, text)
}

func (f *fakeNotifier) NotifyRenter(_ context.Context, as *notify.Account, _ string, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renter = append(f.renter, text)
	f.sellers = append(f.sellers, as)
}

func (f *fakeNotifier) NotifyOperators(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operators = append(f.operators, text)
}

func (f *fakeNotifier) DeliverToRenter(_ context.Context, as *notify.Account, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellers = append(f.sellers, as)
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.delivered = append(f.delivered, text)
	return nil
}

func (f *fakeNotifier) ownerMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.owner...)
}

const (
	testSellerID  = "5550001"
	testSellerKey = "golden-key"
)

const (
	testOwner  = int64(1001)
	testSeed   = "MTIzNDU2Nzg5MDEyMzQ1Njc4OTA="
	baseSecret = "base-secret"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

// newSQLMock returns a sqlmock DB that accepts any number of transactions.
// Services only use it to begin and end transactions; the fake repositories
// ignore the handle.
func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

type fixture struct {
	store    *memStore
	db       *sql.DB
	mock     sqlmock.Sqlmock
	cipher   *cryptox.Cipher
	rotator  *fakeRotator
	notifier *fakeNotifier
	ledger   *LedgerService
	leases   *LeaseService
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, err := cryptox.NewCipher(testKey)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	f := &fixture{
		store:    newMemStore(),
		cipher:   c,
		rotator:  &fakeRotator{},
		notifier: &fakeNotifier{},
		now:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.db, f.mock = newSQLMock(t)

	m := memManager{f.store}
	f.ledger = NewLedgerService(f.db, m, testConfig(), f.notifier, nopLogger{}, nil)
	f.ledger.now = func() time.Time { return f.now }
	f.leases = NewLeaseService(f.db, m, f.ledger, c, f.rotator, f.notifier, nopLogger{}, nil)
	f.leases.now = func() time.Time { return f.now }
	return f
}

// expectTx registers n transactions that commit.
func (f *fixture) expectTx(n int) {
	for i := 0; i < n; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
	}
}

func (f *fixture) addOwner(balance string) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	o := &models.Owner{ID: 1, TelegramID: testOwner, Balance: decimal.RequireFromString(balance), IsActive: true}
	o.MarketplaceUserIDEnc, _ = f.cipher.EncryptString(testSellerID)
	o.MarketplaceKeyEnc, _ = f.cipher.EncryptString(testSellerKey)
	f.store.owners[testOwner] = o
}

func (f *fixture) addResource(t *testing.T) int64 {
	t.Helper()
	if _, ok := f.store.owners[testOwner]; !ok {
		f.addOwner("0")
	}
	secretEnc, err := f.cipher.EncryptString(baseSecret)
	if err != nil {
		t.Fatal(err)
	}
	seedEnc, err := f.cipher.EncryptString(testSeed)
	if err != nil {
		t.Fatal(err)
	}
	id, err := memResources{f.store}.Create(context.Background(), &models.Resource{
		OwnerTelegramID: testOwner,
		Login:           fmt.Sprintf("player%d", len(f.store.resources)+1),
		BaseSecretEnc:   secretEnc,
		SharedSeedEnc:   seedEnc,
		PricePerHour:    decimal.RequireFromString("12.50"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}
