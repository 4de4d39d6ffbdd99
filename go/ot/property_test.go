package ot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustSet(t *testing.T, name string, value any) PropertyOp {
	t.Helper()
	var op, err = NewSetPropertyOp(name, value)
	require.NoError(t, err)
	return op
}

func mustDeleteProp(t *testing.T, name string) PropertyOp {
	t.Helper()
	var op, err = NewDeletePropertyOp(name)
	require.NoError(t, err)
	return op
}

func TestPropertyOpValidation(t *testing.T) {
	var _, err = NewSetPropertyOp("bad name!", 1)
	require.ErrorIs(t, err, ErrBadValue)

	_, err = NewSetPropertyOp("x", struct{}{})
	require.ErrorIs(t, err, ErrBadValue)

	op, err := NewSetPropertyOp("title", "Meeting notes")
	require.NoError(t, err)
	require.Equal(t, "title", op.PropertyName())
	require.Equal(t, "Meeting notes", op.Value())
}

func TestPropertyComposeLastWriterWins(t *testing.T) {
	var a = NewPropertyDelta(mustSet(t, "title", "one"), mustSet(t, "lang", "en"))
	var b = NewPropertyDelta(mustSet(t, "title", "two"))

	var out = a.Compose(b)
	require.Equal(t, 2, out.Len())
	require.Equal(t, "two", out.At(0).Value())
	require.Equal(t, "en", out.At(1).Value())
}

func TestPropertyComposeDocumentDropsDeletes(t *testing.T) {
	var doc = NewPropertyDelta(mustSet(t, "title", "one"), mustSet(t, "lang", "en"))

	var out, err = doc.ComposeDocument(NewPropertyDelta(mustDeleteProp(t, "lang")))
	require.NoError(t, err)
	require.True(t, out.Equals(NewPropertyDelta(mustSet(t, "title", "one"))))

	// Deleting an absent property is a no-op.
	out, err = doc.ComposeDocument(NewPropertyDelta(mustDeleteProp(t, "nope")))
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
}

func TestPropertyDiff(t *testing.T) {
	var a = NewPropertyDelta(mustSet(t, "title", "one"), mustSet(t, "lang", "en"))
	var b = NewPropertyDelta(mustSet(t, "title", "two"), mustSet(t, "owner", "pat"))

	var diff, err = a.Diff(b)
	require.NoError(t, err)

	// Changed title, removed lang, added owner.
	require.Equal(t, 3, diff.Len())

	out, err := a.ComposeDocument(diff)
	require.NoError(t, err)

	// Same properties, order-insensitively.
	var outProps = map[string]any{}
	for _, op := range out.Ops() {
		outProps[op.PropertyName()] = op.Value()
	}
	require.Equal(t, map[string]any{"title": "two", "owner": "pat"}, outProps)

	// Equal documents diff to empty.
	diff, err = a.Diff(a)
	require.NoError(t, err)
	require.True(t, diff.IsEmpty())
}

func TestPropertyIsDocument(t *testing.T) {
	require.True(t, EmptyPropertyDelta.IsDocument())
	require.False(t, NewPropertyDelta(mustDeleteProp(t, "x")).IsDocument())
	require.False(t, NewPropertyDelta(mustSet(t, "x", 1), mustSet(t, "x", 2)).IsDocument())
}
