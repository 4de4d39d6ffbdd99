package codec

import (
	"errors"
	"testing"

	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/require"

	"github.com/marginalia/quill/go/ot"
)

func mustOp[T any](op T, err error) T {
	if err != nil {
		panic(err)
	}
	return op
}

func sampleBodyDelta(t *testing.T) ot.BodyDelta {
	return ot.NewBodyDelta(
		mustOp(ot.NewRetainOp(4, nil)),
		mustOp(ot.NewTextOp("hello", ot.Attributes{"bold": true})),
		mustOp(ot.NewRetainOp(2, ot.Attributes{"italic": nil})),
		mustOp(ot.NewEmbedOp("image", map[string]any{"url": "a.png", "width": 32}, nil)),
		mustOp(ot.NewDeleteOp(3)),
	)
}

func sampleCaretDelta(t *testing.T) ot.CaretDelta {
	var caret, err = ot.NewCaret("sess-1")
	require.NoError(t, err)
	caret, err = caret.WithField(ot.CaretIndex, 7)
	require.NoError(t, err)
	caret, err = caret.WithField(ot.CaretColor, "#a0b1c2")
	require.NoError(t, err)

	return ot.NewCaretDelta(
		mustOp(ot.NewBeginSessionOp(caret)),
		mustOp(ot.NewSetFieldOp("sess-2", ot.CaretLength, 5)),
		mustOp(ot.NewSetFieldOp("sess-2", ot.CaretLastActive, ot.Timestamp(1700000000000))),
		mustOp(ot.NewEndSessionOp("sess-3")),
	)
}

func samplePropertyDelta(t *testing.T) ot.PropertyDelta {
	return ot.NewPropertyDelta(
		mustOp(ot.NewSetPropertyOp("title", "Notes")),
		mustOp(ot.NewSetPropertyOp("outline", []any{"a", "b"})),
		mustOp(ot.NewDeletePropertyOp("stale")),
	)
}

func TestBodyDeltaRoundTrip(t *testing.T) {
	var delta = sampleBodyDelta(t)
	var data, err = Encode(delta)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.True(t, delta.Equals(decoded.(ot.BodyDelta)))
}

func TestBodyDeltaWireShape(t *testing.T) {
	var delta = ot.NewBodyDelta(
		mustOp(ot.NewTextOp("hi", ot.Attributes{"bold": true})),
		mustOp(ot.NewDeleteOp(2)),
	)
	var data, err = Encode(delta)
	require.NoError(t, err)

	var want = `{"type":"bodyDelta","ops":[{"text":"hi","attributes":{"bold":true}},{"delete":2}]}`
	var opts = jsondiff.DefaultConsoleOptions()
	diff, report := jsondiff.Compare(data, []byte(want), &opts)
	require.Equal(t, jsondiff.FullMatch, diff, report)
}

func TestCaretDeltaRoundTrip(t *testing.T) {
	var delta = sampleCaretDelta(t)
	var data, err = Encode(delta)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.True(t, delta.Equals(decoded.(ot.CaretDelta)))
}

func TestPropertyDeltaRoundTrip(t *testing.T) {
	var delta = samplePropertyDelta(t)
	var data, err = Encode(delta)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.True(t, delta.Equals(decoded.(ot.PropertyDelta)))
}

func TestCaretValueRoundTrip(t *testing.T) {
	var caret, err = ot.NewCaret("sess-9")
	require.NoError(t, err)
	caret, err = caret.WithField(ot.CaretLastActive, ot.Timestamp(1234))
	require.NoError(t, err)

	data, err := Encode(caret)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	require.True(t, caret.Equals(decoded.(ot.Caret)))
}

func TestChangeAndSnapshotRoundTrip(t *testing.T) {
	var delta = sampleBodyDelta(t)
	var change, err = ot.NewChange(3, delta, ot.Timestamp(1700000000001), "author-1")
	require.NoError(t, err)

	data, err := Encode(change)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	require.True(t, change.Equals(decoded.(ot.BodyChange)))

	doc := ot.NewBodyDelta(mustOp(ot.NewTextOp("hello world", nil)))
	snapshot, err := ot.NewSnapshot(0, doc)
	require.NoError(t, err)

	data, err = Encode(snapshot)
	require.NoError(t, err)
	decoded, err = Decode(data)
	require.NoError(t, err)
	require.True(t, snapshot.Equals(decoded.(ot.BodySnapshot)))
}

func TestChangeCodec(t *testing.T) {
	var change, err = ot.NewChange(0, samplePropertyDelta(t), 0, "")
	require.NoError(t, err)

	data, err := PropertyChanges.EncodeChange(change)
	require.NoError(t, err)

	decoded, err := PropertyChanges.DecodeChange(data)
	require.NoError(t, err)
	require.True(t, change.Equals(decoded))
	require.True(t, decoded.Timestamp.IsZero())
	require.Empty(t, decoded.AuthorID)

	// A change of another flavor is rejected by its tag.
	_, err = BodyChanges.DecodeChange(data)
	require.True(t, errors.Is(err, ot.ErrBadData))
}

func TestPlainDataPassesThrough(t *testing.T) {
	var data, err = Encode(map[string]any{"a": []any{1, "two", nil}})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	// Freeze normalizes the int on the way in; json gives float64 on
	// the way out, so the trees agree.
	require.True(t, ot.ValueEquals(map[string]any{"a": []any{float64(1), "two", nil}}, decoded))
}

func TestDecodeRejectsMalformedOps(t *testing.T) {
	for _, bad := range []string{
		`{"type":"bodyDelta","ops":[{"mystery":1}]}`,
		`{"type":"bodyDelta","ops":[{"delete":-2}]}`,
		`{"type":"bodyDelta","ops":"nope"}`,
		`{"type":"caretDelta","ops":[{"setField":{"sessionId":"s","field":"nope","value":1}}]}`,
		`{"type":"bodyChange","revNum":"x","delta":{"type":"bodyDelta","ops":[]}}`,
	} {
		var _, err = Decode([]byte(bad))
		require.Error(t, err, bad)
	}

	var _, err = Decode([]byte(`{broken`))
	require.True(t, errors.Is(err, ot.ErrBadData))
}
