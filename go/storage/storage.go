// Package storage provides the file store: durable, append-only change
// logs addressed by file id, with a current-revision pointer and
// content-hash change notification. Changes are stored as opaque
// encoded bytes; flavor semantics live above, in the document layer.
package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marginalia/quill/go/ot"
)

// Timeouts clamps caller-supplied deadlines for blocking store
// operations.
type Timeouts struct {
	Min time.Duration
	Max time.Duration
}

// DefaultTimeouts is the stock clamp range.
var DefaultTimeouts = Timeouts{
	Min: 100 * time.Millisecond,
	Max: 5 * time.Minute,
}

// maxEverTimeout bounds even the configured maximum.
const maxEverTimeout = 24 * time.Hour

// Clamp maps a requested timeout into the configured range. A zero or
// negative request means "the configured maximum". Nothing exceeds one
// day.
func (t Timeouts) Clamp(d time.Duration) time.Duration {
	var max = t.Max
	if max <= 0 || max > maxEverTimeout {
		max = maxEverTimeout
	}
	if d <= 0 || d > max {
		return max
	}
	if d < t.Min {
		return t.Min
	}
	return d
}

// WithDeadline derives a context bounded by the clamped timeout.
func (t Timeouts) WithDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.Clamp(d))
}

// Stats summarizes a store for load assessment.
type Stats struct {
	// FileCount is the number of files present.
	FileCount int
	// RoughSize approximates total stored bytes.
	RoughSize int64
}

// Store is a collection of append-only files.
type Store interface {
	// GetFile returns a handle for the id. The file itself is created
	// on demand by the first append; use Exists to probe.
	GetFile(ctx context.Context, id ot.FileID) (FileHandle, error)
	// Stats summarizes the store's contents.
	Stats(ctx context.Context) (Stats, error)
	// Close releases the store's resources.
	Close() error
}

// FileHandle is one append-only change log.
//
// Append outcomes linearize: the visible sequence of revision numbers
// is 0, 1, 2, ... and a change at revision r becomes visible only via a
// successful AppendChange of r = previous + 1. Visible changes are
// never mutated or reordered.
type FileHandle interface {
	// ID of the file.
	ID() ot.FileID
	// Exists reports whether the file has been created.
	Exists(ctx context.Context) (bool, error)
	// CurrentRevNum is the latest appended revision, or ot.NoRevNum
	// when the file is empty or absent.
	CurrentRevNum(ctx context.Context) (int, error)
	// AppendChange appends encoded change data at revNum. It returns
	// false only when another writer appended revNum first (a lost
	// race); all other failures are errors.
	AppendChange(ctx context.Context, revNum int, data []byte) (bool, error)
	// GetChange reads the encoded change at revNum, or a
	// revisionNotAvailable error when revNum is unknown or has aged
	// out of history.
	GetChange(ctx context.Context, revNum int) ([]byte, error)
	// PathHash is the content hash of the given path within the file.
	PathHash(ctx context.Context, path string) (Hash, error)
	// WhenPathIsNot blocks until the content at path no longer hashes
	// to known, or the context deadline elapses (a timedOut error).
	WhenPathIsNot(ctx context.Context, path string, known Hash) error
}

// Paths within a file. The revision-pointer path changes hash on every
// append, which is what subscribers block on.
const RevPath = "rev"

// ChangePath is the path of the change stored at revNum.
func ChangePath(revNum int) string {
	return fmt.Sprintf("change/%d", revNum)
}

// parseChangePath inverts ChangePath, returning -1 for other paths.
func parseChangePath(path string) int {
	var rest, ok = strings.CutPrefix(path, "change/")
	if !ok {
		return -1
	}
	var rev, err = strconv.Atoi(rest)
	if err != nil || rev < 0 {
		return -1
	}
	return rev
}

// ctxErr maps a context error to the store's error taxonomy.
func ctxErr(ctx context.Context, what string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return ot.TimedOutf("%s", what)
	}
	return ctx.Err()
}
