package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

type sent struct {
	to, text string
}

type recordingSender struct {
	name string
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(_ context.Context, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{to, text})
	return r.err
}

func (r *recordingSender) got() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

func TestHub_NotConnectedIsNoop(t *testing.T) {
	h := NewHub(4, nopLogger{}, nil)
	ctx := context.Background()

	assert.False(t, h.Connected())
	assert.NotPanics(t, func() {
		h.NotifyOwner(ctx, 1, "x")
		h.NotifyRenter(ctx, nil, "buyer", "x")
		h.NotifyOperators(ctx, "x")
	})
	assert.Len(t, h.queue, 0)
	assert.ErrorIs(t, h.DeliverToRenter(ctx, nil, "buyer", "x"), ErrNotConnected)
}

func TestHub_DeliversAsync(t *testing.T) {
	owner := &recordingSender{name: "telegram"}
	renter := &recordingSender{name: "marketplace"}

	h := NewHub(8, nopLogger{}, nil)
	h.Connect(owner, renter, []int64{900, 901})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	h.NotifyOwner(ctx, 42, "lease started")
	h.NotifyRenter(ctx, nil, "buyer1", "sorry")
	h.NotifyOperators(ctx, "dead-lettered")

	require.Eventually(t, func() bool {
		return len(owner.got()) == 3 && len(renter.got()) == 1
	}, time.Second, 5*time.Millisecond)

	h.Stop()

	assert.Contains(t, owner.got(), sent{"42", "lease started"})
	assert.Contains(t, owner.got(), sent{"900", "dead-lettered"})
	assert.Contains(t, owner.got(), sent{"901", "dead-lettered"})
	assert.Equal(t, []sent{{"buyer1", "sorry"}}, renter.got())
}

func TestHub_StopDrainsQueue(t *testing.T) {
	owner := &recordingSender{name: "telegram"}
	h := NewHub(8, nopLogger{}, nil)
	h.Connect(owner, nil, nil)

	for i := 0; i < 5; i++ {
		h.NotifyOwner(context.Background(), 1, "m")
	}
	h.Start(context.Background())
	h.Stop()

	assert.Len(t, owner.got(), 5)
}

func TestHub_FullQueueDrops(t *testing.T) {
	owner := &recordingSender{name: "telegram"}
	h := NewHub(1, nopLogger{}, nil)
	h.Connect(owner, nil, nil)

	h.NotifyOwner(context.Background(), 1, "first")
	h.NotifyOwner(context.Background(), 1, "second")

	assert.Len(t, h.queue, 1)
}

func TestHub_DeliverToRenterReportsFailure(t *testing.T) {
	renter := &recordingSender{name: "marketplace", err: errors.New("chat closed")}
	h := NewHub(1, nopLogger{}, nil)
	h.Connect(&recordingSender{name: "telegram"}, renter, nil)

	err := h.DeliverToRenter(context.Background(), nil, "buyer", "login: acc1")
	assert.EqualError(t, err, "chat closed")
	assert.Len(t, renter.got(), 1)
}

func TestHub_StartStopIdempotent(t *testing.T) {
	h := NewHub(1, nopLogger{}, nil)
	h.Start(context.Background())
	h.Start(context.Background())
	h.Stop()
	h.Stop()
}

func TestHub_RestartAfterStop(t *testing.T) {
	owner := &recordingSender{name: "telegram"}
	h := NewHub(4, nopLogger{}, nil)
	h.Connect(owner, nil, nil)

	h.Start(context.Background())
	h.Stop()

	h.Start(context.Background())
	h.NotifyOwner(context.Background(), 7, "again")
	assert.NotPanics(t, h.Stop)
	assert.Equal(t, []sent{{"7", "again"}}, owner.got())
}

type accountSender struct {
	recordingSender
	as []Account
}

func (a *accountSender) SendAs(ctx context.Context, acct Account, to, text string) error {
	a.mu.Lock()
	a.as = append(a.as, acct)
	a.mu.Unlock()
	return a.Send(ctx, to, text)
}

func TestHub_RenterMessagesUseOwnerAccount(t *testing.T) {
	renter := &accountSender{recordingSender: recordingSender{name: "marketplace"}}
	h := NewHub(4, nopLogger{}, nil)
	h.Connect(&recordingSender{name: "telegram"}, renter, nil)

	acct := &Account{UserID: "555", Key: "golden"}
	require.NoError(t, h.DeliverToRenter(context.Background(), acct, "buyer", "creds"))
	require.NoError(t, h.DeliverToRenter(context.Background(), nil, "buyer", "shared"))

	assert.Equal(t, []Account{*acct}, renter.as)
	assert.Equal(t, []sent{{"buyer", "creds"}, {"buyer", "shared"}}, renter.got())
}
