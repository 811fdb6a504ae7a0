// Package common contains shared constants and sentinel errors used across
// leasekeeper components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the operator
// access token on inbound and outbound calls.
const AccessTokenHeaderName = "access_token"

// SecretLength is the length of generated lease secrets.
const SecretLength = 12

// SecretAlphabet is the character set lease secrets are drawn from.
const SecretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
