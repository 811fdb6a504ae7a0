package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFitsMoneyColumn(t *testing.T) {
	cases := map[string]bool{
		"0":            true,
		"10":           true,
		"10.5":         true,
		"10.50":        true,
		"-150.00":      true,
		"99999999.99":  true,
		"10.005":       false,
		"0.001":        false,
		"100000000.00": false,
		"-100000000":   false,
		"99999999.991": false,
	}
	for in, want := range cases {
		assert.Equal(t, want, FitsMoneyColumn(decimal.RequireFromString(in)), in)
	}
}
