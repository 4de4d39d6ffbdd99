// Package doc coordinates edits to documents. Each document is backed
// by three change logs (body, caret, property), and a per-log
// Coordinator serializes writes, rebasing late submissions over the
// work they haven't seen.
package doc

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/marginalia/quill/go/codec"
	"github.com/marginalia/quill/go/ot"
	"github.com/marginalia/quill/go/storage"
)

var (
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_document_updates_total",
		Help: "Update attempts against document change logs.",
	}, []string{"flavor", "outcome"})
	updateRacesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_document_update_races_total",
		Help: "Lost append races during document updates.",
	}, []string{"flavor"})
)

// Options tune a Coordinator.
type Options struct {
	// RetryCap bounds the append attempts of one Update call.
	RetryCap int
	// SnapshotCacheSize bounds the per-log cache of materialized
	// snapshots.
	SnapshotCacheSize int
	// Timeouts clamps how long blocking reads may wait.
	Timeouts storage.Timeouts
}

// DefaultOptions are the stock coordinator settings.
var DefaultOptions = Options{
	RetryCap:          10,
	SnapshotCacheSize: 16,
	Timeouts:          storage.DefaultTimeouts,
}

func (o Options) withDefaults() Options {
	if o.RetryCap <= 0 {
		o.RetryCap = DefaultOptions.RetryCap
	}
	if o.SnapshotCacheSize <= 0 {
		o.SnapshotCacheSize = DefaultOptions.SnapshotCacheSize
	}
	if o.Timeouts == (storage.Timeouts{}) {
		o.Timeouts = DefaultOptions.Timeouts
	}
	return o
}

// Coordinator owns one change log. It caches the latest materialized
// snapshot (rebuildable from the log), rebases updates submitted
// against stale revisions, and wakes readers blocked on new revisions.
type Coordinator[D ot.DeltaFlavor[D]] struct {
	file storage.FileHandle
	cc   codec.ChangeCodec[D]
	opts Options

	// updateMu admits one update loop at a time; readers don't take it.
	updateMu sync.Mutex

	// snapMu guards the materialized snapshots.
	snapMu sync.Mutex
	latest ot.Snapshot[D]
	loaded bool
	cache  *lru.Cache[int, ot.Snapshot[D]]
}

// NewCoordinator builds a coordinator over file using the flavor's
// change codec.
func NewCoordinator[D ot.DeltaFlavor[D]](file storage.FileHandle, cc codec.ChangeCodec[D], opts Options) *Coordinator[D] {
	opts = opts.withDefaults()
	var cache, _ = lru.New[int, ot.Snapshot[D]](opts.SnapshotCacheSize)
	return &Coordinator[D]{file: file, cc: cc, opts: opts, cache: cache}
}

// Init ensures the log has its initial revision: an empty, authorless
// change at revision zero. Losing the creation race to another process
// is fine.
func (c *Coordinator[D]) Init(ctx context.Context) error {
	var current, err = c.file.CurrentRevNum(ctx)
	if err != nil {
		return err
	}
	if current != ot.NoRevNum {
		return nil
	}
	var initial ot.Change[D]
	initial.RevNum = 0
	data, err := c.cc.EncodeChange(initial)
	if err != nil {
		return err
	}
	if _, err = c.file.AppendChange(ctx, 0, data); err != nil {
		return err
	}
	return nil
}

// CurrentRevNum of the log.
func (c *Coordinator[D]) CurrentRevNum(ctx context.Context) (int, error) {
	return c.file.CurrentRevNum(ctx)
}

// Change reads and decodes the stored change at revNum.
func (c *Coordinator[D]) Change(ctx context.Context, revNum int) (ot.Change[D], error) {
	var data, err = c.file.GetChange(ctx, revNum)
	if err != nil {
		return ot.Change[D]{}, err
	}
	change, err := c.cc.DecodeChange(data)
	if err != nil {
		return ot.Change[D]{}, err
	}
	if change.RevNum != revNum {
		return ot.Change[D]{}, ot.BadDataf("stored change at revision %d claims revision %d", revNum, change.RevNum)
	}
	return change, nil
}

// Snapshot materializes the log at revNum, or at the current revision
// when revNum is NoRevNum. Revisions past the end of the log are
// revisionNotAvailable.
func (c *Coordinator[D]) Snapshot(ctx context.Context, revNum int) (ot.Snapshot[D], error) {
	var current, err = c.file.CurrentRevNum(ctx)
	if err != nil {
		return ot.Snapshot[D]{}, err
	}
	if revNum == ot.NoRevNum {
		revNum = current
	}
	if revNum < 0 || revNum > current {
		return ot.Snapshot[D]{}, ot.RevisionNotAvailablef(
			"file %q has no revision %d (current %d)", string(c.file.ID()), revNum, current)
	}
	return c.materialize(ctx, revNum)
}

// materialize rolls a cached snapshot forward to revNum.
func (c *Coordinator[D]) materialize(ctx context.Context, revNum int) (ot.Snapshot[D], error) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	if c.loaded && c.latest.RevNum() == revNum {
		return c.latest, nil
	}
	if snap, ok := c.cache.Get(revNum); ok {
		return snap, nil
	}

	// Start from the nearest snapshot at or below revNum: the latest,
	// a cached one, or the empty snapshot preceding revision zero.
	var snap ot.Snapshot[D]
	var next = 0
	if c.loaded && c.latest.RevNum() < revNum {
		snap, next = c.latest, c.latest.RevNum()+1
	}
	for rev := revNum; rev >= next && rev > 0; rev-- {
		if cached, ok := c.cache.Get(rev); ok {
			snap, next = cached, rev+1
			break
		}
	}

	for rev := next; rev <= revNum; rev++ {
		var change, err = c.Change(ctx, rev)
		if err != nil {
			return ot.Snapshot[D]{}, err
		}
		if snap, err = snap.Compose(change); err != nil {
			return ot.Snapshot[D]{}, ot.WrapData(err, "replaying stored changes")
		}
	}

	c.cache.Add(revNum, snap)
	if !c.loaded || snap.RevNum() > c.latest.RevNum() {
		c.latest, c.loaded = snap, true
	}
	return snap, nil
}

// Update appends delta, submitted against baseRevNum, to the log. When
// other changes landed after baseRevNum, delta is first rebased over
// their composition, with the already-appended work taking priority.
// The returned change is what was actually appended.
func (c *Coordinator[D]) Update(ctx context.Context, baseRevNum int, delta D, timestamp ot.Timestamp, author ot.AuthorID) (ot.Change[D], error) {
	if err := ot.CheckRevNum(baseRevNum); err != nil {
		return ot.Change[D]{}, err
	}
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	var flavor = c.cc.Tag()
	for attempt := 0; attempt < c.opts.RetryCap; attempt++ {
		var current, err = c.file.CurrentRevNum(ctx)
		if err != nil {
			return ot.Change[D]{}, err
		}
		if baseRevNum > current {
			return ot.Change[D]{}, ot.RevisionNotAvailablef(
				"update base %d is past current revision %d", baseRevNum, current)
		}

		var rebased = delta
		if baseRevNum < current {
			intervening, err := c.composeRange(ctx, baseRevNum, current)
			if err != nil {
				return ot.Change[D]{}, err
			}
			rebased = delta.Transform(intervening.Delta, false)
		}

		change, err := ot.NewChange(ot.RevNumAfter(current), rebased, timestamp, author)
		if err != nil {
			return ot.Change[D]{}, err
		}
		data, err := c.cc.EncodeChange(change)
		if err != nil {
			return ot.Change[D]{}, err
		}

		ok, err := c.file.AppendChange(ctx, change.RevNum, data)
		if err != nil {
			updatesTotal.WithLabelValues(flavor, "error").Inc()
			return ot.Change[D]{}, err
		}
		if ok {
			updatesTotal.WithLabelValues(flavor, "ok").Inc()
			c.noteAppended(change)
			return change, nil
		}
		updateRacesTotal.WithLabelValues(flavor).Inc()
	}

	updatesTotal.WithLabelValues(flavor, "contended").Inc()
	log.WithFields(log.Fields{
		"file":     c.file.ID(),
		"attempts": c.opts.RetryCap,
	}).Warn("update abandoned under contention")
	return ot.Change[D]{}, ot.TimedOutf("update lost %d append races", c.opts.RetryCap)
}

// noteAppended rolls the cached latest snapshot forward over a change
// this coordinator just appended.
func (c *Coordinator[D]) noteAppended(change ot.Change[D]) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	if !c.loaded || change.RevNum != c.latest.RevNum()+1 {
		return // materialize will rebuild from the log.
	}
	var snap, err = c.latest.Compose(change)
	if err != nil {
		// The append was validated before writing; a compose failure
		// here means the cache is stale. Drop it.
		c.loaded = false
		return
	}
	c.latest = snap
	c.cache.Add(snap.RevNum(), snap)
}

// DeltaAfter blocks until the log moves past baseRevNum, then returns
// the composition of changes (baseRevNum, current] as one synthetic
// change: current's revision number, no author, no timestamp.
func (c *Coordinator[D]) DeltaAfter(ctx context.Context, baseRevNum int) (ot.Change[D], error) {
	if err := ot.CheckRevNum(baseRevNum); err != nil {
		return ot.Change[D]{}, err
	}
	// Bound the wait even when the caller carries no deadline: absent
	// means the configured maximum, and explicit deadlines clamp into
	// the configured range.
	var requested time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		requested = time.Until(deadline)
	}
	ctx, cancel := c.opts.Timeouts.WithDeadline(ctx, requested)
	defer cancel()

	for {
		// Capture the hash before reading the revision: an append
		// landing between the two changes the hash, so the wait below
		// returns immediately instead of stalling on a wakeup that
		// already happened.
		var known, err = c.file.PathHash(ctx, storage.RevPath)
		if err != nil {
			return ot.Change[D]{}, err
		}
		current, err := c.file.CurrentRevNum(ctx)
		if err != nil {
			return ot.Change[D]{}, err
		}
		if current > baseRevNum {
			return c.composeRange(ctx, baseRevNum, current)
		}
		if err = c.file.WhenPathIsNot(ctx, storage.RevPath, known); err != nil {
			return ot.Change[D]{}, err
		}
	}
}

// composeRange squashes changes (base, upto] into one synthetic change
// at revision upto.
func (c *Coordinator[D]) composeRange(ctx context.Context, base, upto int) (ot.Change[D], error) {
	var composed ot.Change[D]
	composed.RevNum = upto
	for rev := base + 1; rev <= upto; rev++ {
		var change, err = c.Change(ctx, rev)
		if err != nil {
			return ot.Change[D]{}, err
		}
		composed.Delta = composed.Delta.Compose(change.Delta)
	}
	return composed, nil
}
