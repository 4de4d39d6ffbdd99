package ot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCaret(t *testing.T, id SessionID, fields map[CaretField]any) Caret {
	t.Helper()
	var c, err = NewCaret(id)
	require.NoError(t, err)
	for f, v := range fields {
		c, err = c.WithField(f, v)
		require.NoError(t, err)
	}
	return c
}

func mustBegin(t *testing.T, c Caret) CaretOp {
	t.Helper()
	var op, err = NewBeginSessionOp(c)
	require.NoError(t, err)
	return op
}

func TestCaretDefaults(t *testing.T) {
	var c, err = NewCaret("s1")
	require.NoError(t, err)
	require.Equal(t, SessionID("s1"), c.SessionID())
	require.Equal(t, 0, c.Index())
	require.Equal(t, 0, c.Length())
	require.Equal(t, "#000000", c.Color())
	require.Equal(t, 0, c.RevNum())
	require.True(t, c.LastActive().IsZero())
}

func TestCaretFieldValidation(t *testing.T) {
	var c = mustCaret(t, "s1", nil)

	var _, err = c.WithField(CaretIndex, -1)
	require.ErrorIs(t, err, ErrBadValue)

	_, err = c.WithField(CaretColor, "red")
	require.ErrorIs(t, err, ErrBadValue)

	_, err = c.WithField(CaretColor, "#12345")
	require.ErrorIs(t, err, ErrBadValue)

	_, err = c.WithField("sessionId", "nope")
	require.ErrorIs(t, err, ErrBadValue)

	// Uppercase hex is normalized down.
	out, err := c.WithField(CaretColor, "#AABB00")
	require.NoError(t, err)
	require.Equal(t, "#aabb00", out.Color())
}

func TestCaretComposeDocument(t *testing.T) {
	var c1 = mustCaret(t, "s1", map[CaretField]any{CaretIndex: 3})
	var doc = NewCaretDelta(mustBegin(t, c1))
	require.True(t, doc.IsDocument())

	// setField of a known session.
	var set, err = NewSetFieldOp("s1", CaretIndex, 7)
	require.NoError(t, err)
	out, err := doc.ComposeDocument(NewCaretDelta(set))
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	require.Equal(t, 7, out.At(0).Caret().Index())

	// setField of an unknown session is badUse.
	set, err = NewSetFieldOp("ghost", CaretIndex, 1)
	require.NoError(t, err)
	_, err = doc.ComposeDocument(NewCaretDelta(set))
	require.ErrorIs(t, err, ErrBadUse)

	// beginSession replaces an existing session.
	var c1b = mustCaret(t, "s1", map[CaretField]any{CaretLength: 5})
	out, err = doc.ComposeDocument(NewCaretDelta(mustBegin(t, c1b)))
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	require.Equal(t, 5, out.At(0).Caret().Length())

	// endSession removes; ending an unknown session is tolerated.
	var end, errE = NewEndSessionOp("s1")
	require.NoError(t, errE)
	out, err = doc.ComposeDocument(NewCaretDelta(end))
	require.NoError(t, err)
	require.True(t, out.IsEmpty())
	_, err = doc.ComposeDocument(NewCaretDelta(end, end))
	require.NoError(t, err)
}

func TestCaretIsDocumentRejectsDuplicates(t *testing.T) {
	var c1 = mustCaret(t, "s1", nil)
	var dup = NewCaretDelta(mustBegin(t, c1), mustBegin(t, c1))
	require.False(t, dup.IsDocument())
}

func TestCaretDiffSingleFieldChange(t *testing.T) {
	var before = mustCaret(t, "s1", map[CaretField]any{CaretIndex: 3, CaretLength: 2})
	var after, err = before.WithField(CaretIndex, 9)
	require.NoError(t, err)

	var oldDoc = NewCaretDelta(mustBegin(t, before))
	var newDoc = NewCaretDelta(mustBegin(t, after))

	diff, err := oldDoc.Diff(newDoc)
	require.NoError(t, err)
	require.Equal(t, 1, diff.Len())
	require.Equal(t, CaretSetField, diff.At(0).Name())
	require.Equal(t, CaretIndex, diff.At(0).Field())
	require.Equal(t, 9, diff.At(0).Value())

	// Applying the diff yields the newer document.
	out, err := oldDoc.ComposeDocument(diff)
	require.NoError(t, err)
	require.True(t, out.Equals(newDoc))
}

func TestCaretDiffAddAndRemove(t *testing.T) {
	var c1 = mustCaret(t, "s1", nil)
	var c2 = mustCaret(t, "s2", map[CaretField]any{CaretColor: "#ff0000"})

	var oldDoc = NewCaretDelta(mustBegin(t, c1))
	var newDoc = NewCaretDelta(mustBegin(t, c2))

	var diff, err = oldDoc.Diff(newDoc)
	require.NoError(t, err)
	require.Equal(t, 2, diff.Len())
	require.Equal(t, CaretEndSession, diff.At(0).Name())
	require.Equal(t, SessionID("s1"), diff.At(0).SessionID())
	require.Equal(t, CaretBeginSession, diff.At(1).Name())
	require.Equal(t, SessionID("s2"), diff.At(1).SessionID())

	out, err := oldDoc.ComposeDocument(diff)
	require.NoError(t, err)
	require.True(t, out.Equals(newDoc))
}

func TestCaretComposeIsConcatenation(t *testing.T) {
	var end, _ = NewEndSessionOp("s1")
	var a = NewCaretDelta(mustBegin(t, mustCaret(t, "s1", nil)))
	var b = NewCaretDelta(end)

	var ab = a.Compose(b)
	require.Equal(t, 2, ab.Len())
	require.True(t, a.Compose(EmptyCaretDelta).Equals(a))
	require.True(t, EmptyCaretDelta.Compose(a).Equals(a))
}
