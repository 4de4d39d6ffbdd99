package ot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRevNumAfter(t *testing.T) {
	require.Equal(t, 0, RevNumAfter(NoRevNum))
	require.Equal(t, 1, RevNumAfter(0))
	require.Equal(t, 42, RevNumAfter(41))
}

func TestNewChangeValidation(t *testing.T) {
	var _, err = NewChange(-1, EmptyBodyDelta, 0, "")
	require.ErrorIs(t, err, ErrBadValue)

	_, err = NewChange(0, EmptyBodyDelta, 0, "bad author!")
	require.ErrorIs(t, err, ErrBadValue)

	c, err := NewChange(3, NewBodyDelta(), 1234, "alice")
	require.NoError(t, err)
	require.Equal(t, 3, c.RevNum)
	require.Equal(t, AuthorID("alice"), c.AuthorID)
}

func TestSnapshotComposeRevNum(t *testing.T) {
	var delta = NewBodyDelta(mustText(t, "hi", nil))
	var snap, err = EmptyBodySnapshot.Compose(BodyChange{RevNum: 5, Delta: delta})
	require.NoError(t, err)
	require.Equal(t, 5, snap.RevNum())
	require.True(t, snap.Contents().Equals(delta))
}

func TestSnapshotComposeEmptyIdentity(t *testing.T) {
	var snap, err = NewSnapshot(2, NewBodyDelta(mustText(t, "hi", nil)))
	require.NoError(t, err)

	// Empty delta at the same revision returns an equal snapshot.
	out, err := snap.Compose(BodyChange{RevNum: 2, Delta: EmptyBodyDelta})
	require.NoError(t, err)
	require.Equal(t, snap, out)

	// Empty delta at a new revision relabels only.
	out, err = snap.Compose(BodyChange{RevNum: 3, Delta: EmptyBodyDelta})
	require.NoError(t, err)
	require.Equal(t, 3, out.RevNum())
	require.True(t, out.Contents().Equals(snap.Contents()))
}

func TestSnapshotWithRevNum(t *testing.T) {
	var snap, err = NewSnapshot(2, NewBodyDelta(mustText(t, "hi", nil)))
	require.NoError(t, err)

	same, err := snap.WithRevNum(2)
	require.NoError(t, err)
	require.Equal(t, snap, same)

	moved, err := snap.WithRevNum(7)
	require.NoError(t, err)
	require.Equal(t, 7, moved.RevNum())

	_, err = snap.WithRevNum(-1)
	require.ErrorIs(t, err, ErrBadValue)
}

func TestSnapshotDiffRoundTrip(t *testing.T) {
	var a, err = NewSnapshot(1, NewBodyDelta(mustText(t, "Hello world", nil)))
	require.NoError(t, err)
	b, err := NewSnapshot(4, NewBodyDelta(mustText(t, "Hello, world!", nil)))
	require.NoError(t, err)

	change, err := a.Diff(b)
	require.NoError(t, err)
	require.Equal(t, 4, change.RevNum)
	require.True(t, change.Timestamp.IsZero())
	require.Empty(t, change.AuthorID)

	out, err := a.Compose(change)
	require.NoError(t, err)
	require.True(t, out.Equals(b), "out=%v", out.Contents())

	// Equal contents diff to an empty delta.
	change, err = a.Diff(a)
	require.NoError(t, err)
	require.True(t, change.Delta.IsEmpty())
}

func TestSnapshotRejectsNonDocument(t *testing.T) {
	var _, err = NewSnapshot(0, NewBodyDelta(mustDelete(t, 1)))
	require.ErrorIs(t, err, ErrBadValue)

	// Applying a non-document delta to the empty snapshot fails.
	_, err = EmptyBodySnapshot.Compose(BodyChange{RevNum: 1, Delta: NewBodyDelta(mustRetain(t, 2, nil))})
	require.ErrorIs(t, err, ErrBadValue)
}

func TestCaretSnapshotCompose(t *testing.T) {
	var c1 = mustCaret(t, "s1", map[CaretField]any{CaretIndex: 2})
	var begin = mustBegin(t, c1)

	var snap, err = EmptyCaretSnapshot.Compose(CaretChange{RevNum: 1, Delta: NewCaretDelta(begin)})
	require.NoError(t, err)
	require.Equal(t, 1, snap.RevNum())
	require.Equal(t, 1, snap.Contents().Len())

	var set, _ = NewSetFieldOp("s1", CaretLength, 4)
	snap, err = snap.Compose(CaretChange{RevNum: 2, Delta: NewCaretDelta(set)})
	require.NoError(t, err)
	require.Equal(t, 4, snap.Contents().At(0).Caret().Length())
}

func TestFreezeNormalizesNumbers(t *testing.T) {
	var v, err = Freeze(map[string]any{"n": 3, "s": []any{1.5, "x", nil}})
	require.NoError(t, err)
	require.True(t, ValueEquals(v, map[string]any{"n": float64(3), "s": []any{1.5, "x", nil}}))

	_, err = Freeze(func() {})
	require.ErrorIs(t, err, ErrBadValue)
}
