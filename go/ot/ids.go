package ot

import "time"

// Opaque identifier types. These are never compared other than by
// equality, and never parsed by this module beyond the syntactic
// predicate below.
type (
	// AuthorID identifies an author (end user) of documents.
	AuthorID string
	// DocumentID identifies a document.
	DocumentID string
	// FileID identifies a stored file (change log) in the file store.
	FileID string
	// SessionID identifies a single editing session of an author
	// within a document, and doubles as the caret id for that session.
	SessionID string
)

// IDPredicate is a syntactic predicate over identifier strings.
type IDPredicate func(string) bool

// DefaultIDPredicate accepts non-empty strings of at most 64 characters
// drawn from [-_.A-Za-z0-9].
func DefaultIDPredicate(s string) bool {
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		var c = s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

var idPredicate IDPredicate = DefaultIDPredicate

// SetIDPredicate replaces the identifier predicate used by op
// constructors. It must be called before any other use of this package,
// typically during process configuration.
func SetIDPredicate(p IDPredicate) {
	if p != nil {
		idPredicate = p
	}
}

// CheckID verifies that an identifier satisfies the configured
// predicate, returning a badValue error if it doesn't.
func CheckID(s string) error {
	if !idPredicate(s) {
		return BadValuef("malformed identifier %q", s)
	}
	return nil
}

// Timestamp is a wall-clock instant in milliseconds since the Unix
// epoch. The zero value means "absent".
type Timestamp int64

// Now is the current Timestamp.
func Now() Timestamp { return Timestamp(time.Now().UnixMilli()) }

// IsZero reports whether the timestamp is absent.
func (t Timestamp) IsZero() bool { return t == 0 }

// Time converts to a time.Time.
func (t Timestamp) Time() time.Time { return time.UnixMilli(int64(t)) }
