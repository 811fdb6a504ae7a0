package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// TelegramSender posts messages through the Bot API sendMessage method.
// Recipients are chat IDs.
type TelegramSender struct {
	base   string
	token  string
	hc     *http.Client
	policy RetryPolicy
}

func NewTelegramSender(base, token string, hc *http.Client, policy RetryPolicy) *TelegramSender {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &TelegramSender{base: strings.TrimRight(base, "/"), token: token, hc: hc, policy: policy}
}

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Send(ctx context.Context, chatID string, text string) error {
	body, err := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	if err != nil {
		return err
	}
	url := t.base + "/bot" + t.token + "/sendMessage"
	return doWithRetry(ctx, t.hc, t.policy, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}
