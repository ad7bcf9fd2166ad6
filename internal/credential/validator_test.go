package credential

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("test-signing-key")

// signToken builds an HS256 token. A zero exp omits the claim.
func signToken(t *testing.T, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{"sub": "store-admin"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestValidate_Valid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	token := signToken(t, now.Add(400*time.Second))

	v := Validate(token, now)

	if !v.Valid || v.Expired {
		t.Errorf("Valid = %v, Expired = %v, want true, false", v.Valid, v.Expired)
	}
	if !v.ExpiresAt.Equal(now.Add(400 * time.Second)) {
		t.Errorf("ExpiresAt = %v, want %v", v.ExpiresAt, now.Add(400*time.Second))
	}
	if v.TimeUntilExpiry != 400*time.Second {
		t.Errorf("TimeUntilExpiry = %v, want 400s", v.TimeUntilExpiry)
	}
	if v.Seconds() != 400 {
		t.Errorf("Seconds() = %d, want 400", v.Seconds())
	}
	if v.Malformed() {
		t.Error("Malformed() = true for a well-formed token")
	}
}

func TestValidate_Expired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name string
		exp  time.Time
	}{
		{"one second ago", now.Add(-time.Second)},
		{"an hour ago", now.Add(-time.Hour)},
		{"exactly now", now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(signToken(t, tt.exp), now)

			if v.Valid || !v.Expired {
				t.Errorf("Valid = %v, Expired = %v, want false, true", v.Valid, v.Expired)
			}
			if v.TimeUntilExpiry != 0 || v.Seconds() != 0 {
				t.Errorf("TimeUntilExpiry = %v, Seconds() = %d, want 0", v.TimeUntilExpiry, v.Seconds())
			}
			if v.ExpiresAt.IsZero() {
				t.Error("ExpiresAt should be set for a parseable token")
			}
		})
	}
}

func TestValidate_Malformed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"single segment", "abcdef"},
		{"two segments", "abc.def"},
		{"four segments", "a.b.c.d"},
		{"garbage base64", "!!!.@@@.###"},
		{"json not object", "eyJhbGciOiJIUzI1NiJ9.WzEsMiwzXQ.sig"},
		{"missing exp", signToken(t, time.Time{})},
		{"exp not numeric", "eyJhbGciOiJIUzI1NiJ9.eyJleHAiOiJzb29uIn0.sig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.token, now)

			if v.Valid || !v.Expired {
				t.Errorf("Valid = %v, Expired = %v, want false, true", v.Valid, v.Expired)
			}
			if !v.Malformed() {
				t.Error("Malformed() = false")
			}
			if v.TimeUntilExpiry != 0 {
				t.Errorf("TimeUntilExpiry = %v, want 0", v.TimeUntilExpiry)
			}
		})
	}
}
