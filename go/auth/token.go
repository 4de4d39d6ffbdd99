// Package auth maps bearer tokens to capabilities. A token's first 16
// characters are its id, used as a lookup key and safe to log; the full
// string is the secret and is compared in constant time, never logged.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"github.com/marginalia/quill/go/ot"
)

// IDLength is the length of a token's id prefix.
const IDLength = 16

// minTokenLength is what the default syntax predicate requires.
const minTokenLength = 32

// BearerToken is an opaque credential string.
type BearerToken string

// TokenPredicate is a syntactic predicate over token strings.
type TokenPredicate func(string) bool

// DefaultTokenPredicate accepts strings of at least 32 characters drawn
// from [-_A-Za-z0-9].
func DefaultTokenPredicate(s string) bool {
	if len(s) < minTokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		var c = s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

var tokenPredicate TokenPredicate = DefaultTokenPredicate

// SetTokenPredicate replaces the token syntax predicate. It must be
// called before any other use of this package, typically during process
// configuration.
func SetTokenPredicate(p TokenPredicate) {
	if p != nil {
		tokenPredicate = p
	}
}

// Check validates the token's syntax.
func (t BearerToken) Check() error {
	if !tokenPredicate(string(t)) {
		// No fragment of the would-be secret may leak into the error.
		return ot.BadValuef("malformed bearer token (len %d)", len(t))
	}
	return nil
}

// ID is the token's lookup key: its first 16 characters.
func (t BearerToken) ID() string {
	if t.Check() != nil {
		return ""
	}
	return string(t)[:IDLength]
}

// Matches compares two tokens in constant time.
func (t BearerToken) Matches(other BearerToken) bool {
	return subtle.ConstantTimeCompare([]byte(t), []byte(other)) == 1
}

// NewRandomToken mints a 48-character random token.
func NewRandomToken() BearerToken {
	var buf = make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // The platform CSPRNG is unavailable.
	}
	return BearerToken(hex.EncodeToString(buf))
}

// SessionInfo is what clients hold to (re)establish a session.
type SessionInfo struct {
	APIURL      string        `json:"apiUrl"`
	AuthorToken BearerToken   `json:"authorToken"`
	DocumentID  ot.DocumentID `json:"documentId"`
}
