package cardrail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	secret := "whsec_test"
	signedAt := time.Unix(1767225600, 0)

	header := Sign(payload, secret, signedAt)

	tests := []struct {
		name   string
		body   []byte
		header string
		secret string
		now    time.Time
		want   error
	}{
		{"valid", payload, header, secret, signedAt.Add(time.Minute), nil},
		{"rotated secret entry", payload, header + ",v1=deadbeef", secret, signedAt, nil},
		{"tampered body", []byte(`{"id":"evt_2"}`), header, secret, signedAt, ErrSignatureMismatch},
		{"wrong secret", payload, header, "whsec_other", signedAt, ErrSignatureMismatch},
		{"missing header", payload, "", secret, signedAt, ErrMissingSignature},
		{"no timestamp", payload, "v1=abcd", secret, signedAt, ErrMalformedSignature},
		{"stale", payload, header, secret, signedAt.Add(10 * time.Minute), ErrSignatureExpired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature(tc.body, tc.header, tc.secret, tc.now, 5*time.Minute)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}
