// Package rotation changes the password of a provider account. A rotation is
// a single bounded call: log in with the current secret and a TOTP code,
// obtain an API key, change the password, log out.
package rotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
)

// Credentials is everything a rotation needs. Secrets are wrapped so they
// cannot leak through logging.
type Credentials struct {
	Login         string
	CurrentSecret logging.Secret
	NewSecret     logging.Secret
	SharedSeed    logging.Secret
}

// Rotator replaces an account's secret with a new one.
//
// Rotate returns nil only when the provider confirmed the change. Every
// failure matches common.ErrRotationFailure; a deadline additionally matches
// common.ErrTimeout.
type Rotator interface {
	Rotate(ctx context.Context, c Credentials) error
}

// Session is an authenticated provider session.
type Session struct {
	ID      string `json:"session_id"`
	SteamID string `json:"steam_id"`
}

type ChangePasswordRequest struct {
	SteamID     string
	Password    logging.Secret
	NewPassword logging.Secret
	Code        string
}

// Client is the provider transport used by SteamRotator.
type Client interface {
	Login(ctx context.Context, login string, password logging.Secret, code string) (*Session, error)
	APIKey(ctx context.Context, s *Session) (string, error)
	// ChangePassword returns the raw response body.
	ChangePassword(ctx context.Context, s *Session, apiKey string, req ChangePasswordRequest) ([]byte, error)
	Logout(ctx context.Context, s *Session) error
}

// LogoutTimeout bounds the provider logout that follows every rotation attempt.
const LogoutTimeout = 10 * time.Second

// SteamRotator implements Rotator on top of a Client.
type SteamRotator struct {
	client        Client
	timeout       time.Duration
	logoutTimeout time.Duration
	logger        logging.Logger
	now           func() time.Time
}

func NewSteamRotator(client Client, timeout time.Duration, logger logging.Logger) *SteamRotator {
	return &SteamRotator{
		client:        client,
		timeout:       timeout,
		logoutTimeout: LogoutTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

func (r *SteamRotator) Rotate(ctx context.Context, c Credentials) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := r.logger.With("login", c.Login)

	code, err := Code(c.SharedSeed.Reveal(), r.now())
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrRotationFailure, err)
	}

	sess, err := r.client.Login(ctx, c.Login, c.CurrentSecret, code)
	if err != nil {
		return r.fail(ctx, "login", err)
	}

	defer func() {
		lctx, lcancel := context.WithTimeout(context.WithoutCancel(ctx), r.logoutTimeout)
		defer lcancel()
		if lerr := r.client.Logout(lctx, sess); lerr != nil {
			log.Warn(lctx, "provider logout failed", "error", lerr)
		}
	}()

	apiKey, err := r.client.APIKey(ctx, sess)
	if err != nil {
		return r.fail(ctx, "api key", err)
	}
	if apiKey == "" {
		return common.ErrMissingCapability
	}
	if sess.SteamID == "" {
		return fmt.Errorf("%w: session has no account id", common.ErrRotationFailure)
	}

	body, err := r.client.ChangePassword(ctx, sess, apiKey, ChangePasswordRequest{
		SteamID:     sess.SteamID,
		Password:    c.CurrentSecret,
		NewPassword: c.NewSecret,
		Code:        code,
	})
	if err != nil {
		return r.fail(ctx, "change password", err)
	}
	if err := checkChangeResponse(body); err != nil {
		return fmt.Errorf("%w: %w", common.ErrRotationFailure, err)
	}

	log.Info(ctx, "password rotated")
	return nil
}

func (r *SteamRotator) fail(ctx context.Context, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", step, common.ErrTimeout)
	}
	return fmt.Errorf("%w: %s: %v", common.ErrRotationFailure, step, err)
}

// checkChangeResponse accepts only an empty JSON object, optionally wrapped
// in a top-level "response" member.
func checkChangeResponse(body []byte) error {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return fmt.Errorf("malformed response: %v", err)
	}
	if outer == nil {
		return errors.New("malformed response: not an object")
	}

	inner := outer
	if raw, ok := outer["response"]; ok {
		inner = nil
		if err := json.Unmarshal(raw, &inner); err != nil || inner == nil {
			return errors.New("malformed response: response is not an object")
		}
	}

	if len(inner) == 0 {
		return nil
	}
	if raw, ok := inner["error"]; ok {
		var msg string
		if json.Unmarshal(raw, &msg) != nil {
			msg = string(raw)
		}
		return fmt.Errorf("provider error: %s", msg)
	}
	return errors.New("unexpected response")
}
