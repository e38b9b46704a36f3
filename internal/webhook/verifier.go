// Package webhook authenticates provider callbacks. Each message kind has a
// fixed field order; the values are concatenated without delimiters and
// signed with HMAC-SHA512 using the shared secret.
//
// The delimiter-free scheme matches the provider and is not collision
// resistant for crafted adjacent values.
package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// Verifier checks callback signatures. It holds no mutable state and is safe
// for concurrent use.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Canonical builds the string that is signed for kind.
func Canonical(p Payload, kind Kind) (string, error) {
	fields, ok := fieldsByKind[kind]
	if !ok {
		return "", ErrUnknownKind
	}
	var b strings.Builder
	for _, f := range fields {
		v, found := p.Lookup(f.path)
		if !found && f.alias != "" {
			v, found = p[f.alias]
		}
		if found {
			b.WriteString(stringify(v))
		}
	}
	return b.String(), nil
}

// Sign returns the lowercase hex signature of p for kind.
func (v *Verifier) Sign(p Payload, kind Kind) (string, error) {
	msg, err := Canonical(p, kind)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, v.secret)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature authenticates p as a message of kind.
// Unknown kinds and empty signatures never verify. The comparison is exact
// and case-sensitive.
func (v *Verifier) Verify(p Payload, signature string, kind Kind) bool {
	if signature == "" {
		return false
	}
	want, err := v.Sign(p, kind)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(signature))
}
