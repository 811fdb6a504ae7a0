package notify

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/metrics"
)

const (
	DefaultQueueSize = 256

	channelOwner    = "owner"
	channelRenter   = "renter"
	channelOperator = "operator"

	drainTimeout = 5 * time.Second
)

// ErrNotConnected is returned by synchronous deliveries before Connect.
var ErrNotConnected = errors.New("notifications not connected")

type message struct {
	channel string
	to      string
	text    string
	as      *Account
}

// Hub fans messages out to the owner, renter and operator channels.
//
// A Hub starts in the not-connected state: every Notify call is a logged
// no-op until Connect supplies the senders. Notify calls never block; when
// the queue is full the message is dropped and counted.
type Hub struct {
	mu        sync.RWMutex
	owner     Sender
	renter    Sender
	operators []int64
	running   bool

	queue   chan message
	done    chan struct{}
	wg      sync.WaitGroup
	logger  logging.Logger
	metrics *metrics.Metrics
}

func NewHub(queueSize int, logger logging.Logger, m *metrics.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		queue:   make(chan message, queueSize),
		logger:  logger,
		metrics: m,
	}
}

// Connect installs the senders. owner delivers to Telegram chat IDs, renter
// to marketplace buyers; operators are chat IDs on the owner channel.
func (h *Hub) Connect(owner, renter Sender, operators []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.owner = owner
	h.renter = renter
	h.operators = append([]int64(nil), operators...)
}

func (h *Hub) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.owner != nil || h.renter != nil
}

// Start launches the delivery worker. It runs until ctx is cancelled or Stop
// is called, then drains what is queued.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	done := make(chan struct{})
	h.done = done
	h.mu.Unlock()

	h.wg.Add(1)
	go h.worker(ctx, done)
}

func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	done := h.done
	h.done = nil
	h.mu.Unlock()

	close(done)
	h.wg.Wait()
}

func (h *Hub) NotifyOwner(ctx context.Context, ownerTelegramID int64, text string) {
	h.enqueue(ctx, message{channel: channelOwner, to: strconv.FormatInt(ownerTelegramID, 10), text: text})
}

// NotifyRenter queues a message to buyer, written as acct when it is not nil
// and from the shared marketplace account otherwise.
func (h *Hub) NotifyRenter(ctx context.Context, acct *Account, buyer string, text string) {
	h.enqueue(ctx, message{channel: channelRenter, to: buyer, text: text, as: acct})
}

func (h *Hub) NotifyOperators(ctx context.Context, text string) {
	h.mu.RLock()
	ops := h.operators
	h.mu.RUnlock()
	for _, id := range ops {
		h.enqueue(ctx, message{channel: channelOperator, to: strconv.FormatInt(id, 10), text: text})
	}
}

// DeliverToRenter sends synchronously and reports the outcome. It is used
// for the credential message, whose failure the caller reports to the owner.
func (h *Hub) DeliverToRenter(ctx context.Context, acct *Account, buyer string, text string) error {
	if !h.Connected() {
		return ErrNotConnected
	}
	return h.deliver(ctx, message{channel: channelRenter, to: buyer, text: text, as: acct})
}

func (h *Hub) enqueue(ctx context.Context, m message) {
	if !h.Connected() {
		h.logger.Debug(ctx, "notification skipped, not connected", "channel", m.channel)
		return
	}
	select {
	case h.queue <- m:
	default:
		h.metrics.NotificationDropped()
		h.logger.Warn(ctx, "notification queue full, message dropped", "channel", m.channel)
	}
}

func (h *Hub) sender(channel string) Sender {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if channel == channelRenter {
		return h.renter
	}
	return h.owner
}

func (h *Hub) deliver(ctx context.Context, m message) error {
	s := h.sender(m.channel)
	if s == nil {
		h.metrics.Notification(m.channel, "skipped")
		return ErrNotConnected
	}
	var err error
	if as, ok := s.(AccountSender); ok && m.as != nil {
		err = as.SendAs(ctx, *m.as, m.to, m.text)
	} else {
		err = s.Send(ctx, m.to, m.text)
	}
	if err != nil {
		h.metrics.Notification(m.channel, "failed")
		h.logger.Error(ctx, "notification failed", "channel", m.channel, "sender", s.Name(), "error", err)
		return err
	}
	h.metrics.Notification(m.channel, "sent")
	return nil
}

func (h *Hub) worker(ctx context.Context, done <-chan struct{}) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			h.drain()
			return
		case <-done:
			h.drain()
			return
		case m := <-h.queue:
			_ = h.deliver(ctx, m)
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case m := <-h.queue:
			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			_ = h.deliver(ctx, m)
			cancel()
		default:
			return
		}
	}
}
