package rotation

import (
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var codeOpts = totp.ValidateOpts{
	Period:    30,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Code derives the one-time code for t from a base64 shared seed.
func Code(seed string, t time.Time) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(seed))
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("%w: not base64", common.ErrMalformedSeed)
	}
	code, err := totp.GenerateCodeCustom(base32.StdEncoding.EncodeToString(raw), t, codeOpts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrMalformedSeed, err)
	}
	return code, nil
}
