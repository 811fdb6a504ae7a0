package auth

import (
	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the bcrypt hash stored in the operator config.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword returns common.ErrorUnauthorized unless password matches hash.
// An empty hash disables operator login.
func CheckPassword(hash, password string) error {
	if hash == "" {
		return common.ErrorUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return common.ErrorUnauthorized
	}
	return nil
}
