package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validation is the result of validating a credential at a point in time.
type Validation struct {
	Valid           bool
	Expired         bool
	ExpiresAt       time.Time     // Zero when the credential could not be parsed
	TimeUntilExpiry time.Duration // Never negative
}

// Seconds returns the remaining lifetime in whole seconds.
func (v Validation) Seconds() int64 {
	return int64(v.TimeUntilExpiry / time.Second)
}

// Malformed reports whether the credential failed structural validation.
func (v Validation) Malformed() bool {
	return !v.Valid && v.ExpiresAt.IsZero()
}

var parser = jwt.NewParser()

// Validate checks the structure and expiry of token without verifying its
// signature. Any parse failure, and a missing exp claim, yields an invalid,
// expired result.
func Validate(token string, now time.Time) Validation {
	invalid := Validation{Valid: false, Expired: true}
	if token == "" {
		return invalid
	}

	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return invalid
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return invalid
	}

	expiresAt := exp.Time
	if !now.Before(expiresAt) {
		return Validation{Valid: false, Expired: true, ExpiresAt: expiresAt}
	}

	return Validation{
		Valid:           true,
		Expired:         false,
		ExpiresAt:       expiresAt,
		TimeUntilExpiry: expiresAt.Sub(now),
	}
}
