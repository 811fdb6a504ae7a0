package logging

import (
	"fmt"
	"log/slog"

	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// Secret wraps a sensitive string so that it never reaches log output,
// regardless of backend or format verb.
type Secret string

func (Secret) String() string                  { return redacted }
func (Secret) GoString() string                { return redacted }
func (Secret) LogValue() slog.Value            { return slog.StringValue(redacted) }
func (Secret) MarshalText() ([]byte, error)    { return []byte(redacted), nil }
func (s Secret) Format(f fmt.State, verb rune) { _, _ = f.Write([]byte(redacted)) }

// MarshalLogObject lets zap's structured encoder render the redacted form.
func (Secret) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("value", redacted)
	return nil
}

// Reveal returns the underlying value. Call sites are the only places a
// secret leaves this wrapper.
func (s Secret) Reveal() string { return string(s) }
