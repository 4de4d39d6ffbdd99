package ot

// NoRevNum is the revision number of a stream with no revisions yet.
const NoRevNum = -1

// RevNumAfter is the revision produced by appending one change after
// prev. RevNumAfter(NoRevNum) is 0.
func RevNumAfter(prev int) int { return prev + 1 }

// CheckRevNum validates a revision number argument.
func CheckRevNum(revNum int) error {
	if revNum < 0 {
		return BadValuef("revision number %d < 0", revNum)
	}
	return nil
}

// DeltaFlavor is the constraint shared by the three delta flavors
// (body, caret, property). It is what Change and Snapshot require of
// their element type.
type DeltaFlavor[D any] interface {
	// Compose squashes other onto this delta. Total and associative;
	// the empty delta is the identity.
	Compose(other D) D
	// ComposeDocument applies other to this document delta, enforcing
	// flavor semantics and returning the resulting document.
	ComposeDocument(other D) (D, error)
	// Diff yields a delta transforming this document into newer.
	Diff(newer D) (D, error)
	// Transform rebases this delta over other.
	Transform(other D, thisIsFirst bool) D
	// IsDocument reports whether the delta is a valid document.
	IsDocument() bool
	// IsEmpty reports whether the delta has no ops.
	IsEmpty() bool
	// Equals is structural equality.
	Equals(other D) bool
}

// Change bundles a delta with the revision number it produces and
// optional authorship metadata. Synthetic changes (the initial empty
// change, or compositions of several changes) have no timestamp and no
// author.
type Change[D DeltaFlavor[D]] struct {
	RevNum    int
	Delta     D
	Timestamp Timestamp // Zero when absent.
	AuthorID  AuthorID  // Empty when absent.
}

// NewChange builds and validates a change.
func NewChange[D DeltaFlavor[D]](revNum int, delta D, timestamp Timestamp, authorID AuthorID) (Change[D], error) {
	if err := CheckRevNum(revNum); err != nil {
		return Change[D]{}, err
	}
	if authorID != "" {
		if err := CheckID(string(authorID)); err != nil {
			return Change[D]{}, err
		}
	}
	if timestamp < 0 {
		return Change[D]{}, BadValuef("negative timestamp %d", int64(timestamp))
	}
	return Change[D]{RevNum: revNum, Delta: delta, Timestamp: timestamp, AuthorID: authorID}, nil
}

// Equals is structural equality.
func (c Change[D]) Equals(o Change[D]) bool {
	return c.RevNum == o.RevNum && c.Timestamp == o.Timestamp &&
		c.AuthorID == o.AuthorID && c.Delta.Equals(o.Delta)
}

// Snapshot is materialized state: a document delta at a revision.
type Snapshot[D DeltaFlavor[D]] struct {
	revNum   int
	contents D
}

// NewSnapshot builds a snapshot, requiring contents to be a document
// delta.
func NewSnapshot[D DeltaFlavor[D]](revNum int, contents D) (Snapshot[D], error) {
	if err := CheckRevNum(revNum); err != nil {
		return Snapshot[D]{}, err
	}
	if !contents.IsDocument() {
		return Snapshot[D]{}, BadValuef("snapshot contents is not a document delta")
	}
	return Snapshot[D]{revNum: revNum, contents: contents}, nil
}

// RevNum of the snapshot.
func (s Snapshot[D]) RevNum() int { return s.revNum }

// Contents of the snapshot. Always a document delta.
func (s Snapshot[D]) Contents() D { return s.contents }

// Equals is structural equality.
func (s Snapshot[D]) Equals(o Snapshot[D]) bool {
	return s.revNum == o.revNum && s.contents.Equals(o.contents)
}

// WithRevNum returns the snapshot relabeled to revNum, or the same
// snapshot when the revision is unchanged.
func (s Snapshot[D]) WithRevNum(revNum int) (Snapshot[D], error) {
	if err := CheckRevNum(revNum); err != nil {
		return Snapshot[D]{}, err
	}
	if revNum == s.revNum {
		return s, nil
	}
	return Snapshot[D]{revNum: revNum, contents: s.contents}, nil
}

// Compose applies a change, yielding the snapshot at the change's
// revision. An empty delta with an unchanged revision returns the same
// snapshot.
func (s Snapshot[D]) Compose(c Change[D]) (Snapshot[D], error) {
	if err := CheckRevNum(c.RevNum); err != nil {
		return Snapshot[D]{}, err
	}
	if c.Delta.IsEmpty() {
		if c.RevNum == s.revNum {
			return s, nil
		}
		return Snapshot[D]{revNum: c.RevNum, contents: s.contents}, nil
	}
	var contents, err = s.contents.ComposeDocument(c.Delta)
	if err != nil {
		return Snapshot[D]{}, err
	}
	return Snapshot[D]{revNum: c.RevNum, contents: contents}, nil
}

// Diff yields the change which transforms this snapshot into newer.
// The result carries newer's revision number and no authorship, and its
// delta is empty exactly when the contents are equal.
func (s Snapshot[D]) Diff(newer Snapshot[D]) (Change[D], error) {
	var delta, err = s.contents.Diff(newer.contents)
	if err != nil {
		return Change[D]{}, err
	}
	return Change[D]{RevNum: newer.revNum, Delta: delta}, nil
}

// Flavor aliases. Each flavor's empty snapshot is the zero value of its
// snapshot type: revision 0 with empty contents.
type (
	BodyChange       = Change[BodyDelta]
	BodySnapshot     = Snapshot[BodyDelta]
	CaretChange      = Change[CaretDelta]
	CaretSnapshot    = Snapshot[CaretDelta]
	PropertyChange   = Change[PropertyDelta]
	PropertySnapshot = Snapshot[PropertyDelta]
)

// Empty snapshots of each flavor.
var (
	EmptyBodySnapshot     = BodySnapshot{}
	EmptyCaretSnapshot    = CaretSnapshot{}
	EmptyPropertySnapshot = PropertySnapshot{}
)
