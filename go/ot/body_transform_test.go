package ot

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestTransformInsertTieBreak(t *testing.T) {
	var base = NewBodyDelta(mustText(t, "ab", nil))
	var a = NewBodyDelta(mustText(t, "X", nil)) // Insert at 0.
	var b = NewBodyDelta(mustText(t, "Y", nil)) // Insert at 0.

	// a is first: its insertion lands before b's.
	var bPrime = b.Transform(a, false)
	var aPrime = a.Transform(b, true)

	var left, err = base.ComposeDocument(a.Compose(bPrime))
	require.NoError(t, err)
	var right, errR = base.ComposeDocument(b.Compose(aPrime))
	require.NoError(t, errR)

	require.True(t, left.Equals(right), "left=%v right=%v", left, right)
	require.Equal(t, "XYab", left.PlainText())
}

func TestTransformDeleteAlreadyDeleted(t *testing.T) {
	var base = NewBodyDelta(mustText(t, "abcd", nil))
	var a = NewBodyDelta(mustRetain(t, 1, nil), mustDelete(t, 2))
	var b = NewBodyDelta(mustRetain(t, 1, nil), mustDelete(t, 2))

	var bPrime = b.Transform(a, false)
	var left, err = base.ComposeDocument(a.Compose(bPrime))
	require.NoError(t, err)
	require.Equal(t, "ad", left.PlainText())

	var aPrime = a.Transform(b, true)
	var right, errR = base.ComposeDocument(b.Compose(aPrime))
	require.NoError(t, errR)
	require.True(t, left.Equals(right))
}

func TestTransformRetainAttributeVsDelete(t *testing.T) {
	var base = NewBodyDelta(mustText(t, "abcd", nil))
	var styler = NewBodyDelta(mustRetain(t, 4, Attributes{"bold": true}))
	var deleter = NewBodyDelta(mustDelete(t, 2))

	// Delete wins over retain-with-attributes.
	var left, err = base.ComposeDocument(deleter.Compose(styler.Transform(deleter, false)))
	require.NoError(t, err)
	var right, errR = base.ComposeDocument(styler.Compose(deleter.Transform(styler, true)))
	require.NoError(t, errR)
	require.True(t, left.Equals(right), "left=%v right=%v", left, right)
	require.Equal(t, "cd", left.PlainText())
	require.True(t, left.Equals(NewBodyDelta(mustText(t, "cd", Attributes{"bold": true}))))
}

func TestTransformInsertVsDelete(t *testing.T) {
	var base = NewBodyDelta(mustText(t, "abcd", nil))
	var a = NewBodyDelta(mustRetain(t, 2, nil), mustText(t, "X", nil))
	var b = NewBodyDelta(mustDelete(t, 4))

	var left, err = base.ComposeDocument(a.Compose(b.Transform(a, false)))
	require.NoError(t, err)
	var right, errR = base.ComposeDocument(b.Compose(a.Transform(b, true)))
	require.NoError(t, errR)
	require.True(t, left.Equals(right), "left=%v right=%v", left, right)
	require.Equal(t, "X", left.PlainText())
}

func TestTransformEmptyIdentity(t *testing.T) {
	var d = NewBodyDelta(mustText(t, "x", nil), mustDelete(t, 1))
	require.True(t, d.Transform(EmptyBodyDelta, false).Equals(d))
	require.True(t, EmptyBodyDelta.Transform(d, true).Equals(EmptyBodyDelta))
}

// buildBodyEdit turns a sequence of choices into a delta which applies
// cleanly to a document of the given length.
func buildBodyEdit(choices []int, docLen int) BodyDelta {
	var remaining = docLen
	var ops []BodyOp
	for _, c := range choices {
		switch {
		case c == 0: // Insert.
			ops = append(ops, BodyOp{name: BodyText, text: "ins"})
		case c == 1 && remaining >= 2: // Styled retain.
			ops = append(ops, BodyOp{name: BodyRetain, count: 2, attrs: Attributes{"bold": true}})
			remaining -= 2
		case c <= 3 && remaining >= 1: // Delete.
			ops = append(ops, BodyOp{name: BodyDelete, count: 1})
			remaining--
		case remaining >= 2: // Retain.
			ops = append(ops, BodyOp{name: BodyRetain, count: 2})
			remaining -= 2
		}
	}
	return NewBodyDelta(ops...)
}

// genBodyEdit produces a random delta over a document of the given
// length: a sequence of retain/delete/insert decisions.
func genBodyEdit(docLen int) gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 6)).Map(func(choices []int) BodyDelta {
		return buildBodyEdit(choices, docLen)
	})
}

func TestTransformConvergenceProperty(t *testing.T) {
	var doc = NewBodyDelta(mustText(t, "the quick brown fox jumps over", nil))
	var docLen = doc.DocLength()

	var parameters = gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	var properties = gopter.NewProperties(parameters)

	properties.Property("concurrent edits converge", prop.ForAll(
		func(a, b BodyDelta) bool {
			var left, errL = doc.ComposeDocument(a.Compose(b.Transform(a, false)))
			if errL != nil {
				return false
			}
			var right, errR = doc.ComposeDocument(b.Compose(a.Transform(b, true)))
			if errR != nil {
				return false
			}
			return left.Equals(right)
		},
		genBodyEdit(docLen),
		genBodyEdit(docLen),
	))

	properties.TestingRun(t)
}

func TestComposeAssociativityProperty(t *testing.T) {
	var doc = NewBodyDelta(mustText(t, "associativity holds here", nil))
	var docLen = doc.DocLength()

	var parameters = gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	var properties = gopter.NewProperties(parameters)

	properties.Property("document application is associative", prop.ForAll(
		func(a BodyDelta, bChoices []int) bool {
			var mid, err = doc.ComposeDocument(a)
			if err != nil {
				return false
			}
			// Build b against the intermediate document's length.
			var b = buildBodyEdit(bChoices, mid.DocLength())

			var viaCompose, errC = doc.ComposeDocument(a.Compose(b))
			if errC != nil {
				return false
			}
			var stepwise, errS = mid.ComposeDocument(b)
			if errS != nil {
				return false
			}
			return viaCompose.Equals(stepwise)
		},
		genBodyEdit(docLen),
		gen.SliceOf(gen.IntRange(0, 6)),
	))

	properties.TestingRun(t)
}
