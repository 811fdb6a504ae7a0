package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/leasekeeper/internal/logging"
)

// Account is an owner's own marketplace identity. Buyer messages sent with
// it appear in the owner's chat with the buyer.
type Account struct {
	UserID string
	Key    logging.Secret
}

// AccountSender is implemented by senders that can write as a given
// marketplace account instead of the shared one.
type AccountSender interface {
	Sender
	SendAs(ctx context.Context, acct Account, to string, text string) error
}

// MarketplaceSender writes into the buyer chat of the marketplace.
// Recipients are buyer usernames.
type MarketplaceSender struct {
	base   string
	token  string
	hc     *http.Client
	policy RetryPolicy
}

func NewMarketplaceSender(base, token string, hc *http.Client, policy RetryPolicy) *MarketplaceSender {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &MarketplaceSender{base: strings.TrimRight(base, "/"), token: token, hc: hc, policy: policy}
}

func (m *MarketplaceSender) Name() string { return "marketplace" }

// Send writes to buyer from the shared account.
func (m *MarketplaceSender) Send(ctx context.Context, buyer string, text string) error {
	return m.post(ctx, m.token, map[string]string{"buyer": buyer, "text": text})
}

// SendAs writes to buyer from acct.
func (m *MarketplaceSender) SendAs(ctx context.Context, acct Account, buyer string, text string) error {
	return m.post(ctx, acct.Key.Reveal(), map[string]string{"buyer": buyer, "text": text, "user_id": acct.UserID})
}

func (m *MarketplaceSender) post(ctx context.Context, token string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return doWithRetry(ctx, m.hc, m.policy, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+"/chats/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, nil
	})
}
