package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marginalia/quill/go/doc"
	"github.com/marginalia/quill/go/ot"
	"github.com/marginalia/quill/go/storage"
)

func testManager(t *testing.T, cfg Config) *Manager {
	var store, err = storage.NewLocalStore(filepath.Join(t.TempDir(), "files"))
	require.NoError(t, err)
	return NewManager(doc.NewRegistry(store, doc.Options{}), cfg)
}

func mustOp[T any](op T, err error) T {
	if err != nil {
		panic(err)
	}
	return op
}

func TestSessionLifecycle(t *testing.T) {
	var ctx = context.Background()
	var mgr = testManager(t, Config{})

	access, err := NewAuthorAccess(mgr, "alice")
	require.NoError(t, err)

	s, err := access.NewSession(ctx, "notes")
	require.NoError(t, err)
	require.Equal(t, ot.AuthorID("alice"), s.AuthorID())
	require.Equal(t, ot.DocumentID("notes"), s.DocumentID())
	require.Equal(t, 1, mgr.Count())

	// Minting began the session's caret, colored from the palette and
	// pinned to the body revision it joined at.
	snap, err := s.CaretSnapshot(ctx, ot.NoRevNum)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Contents().Len())
	var begun = snap.Contents().At(0)
	require.Equal(t, s.ID(), begun.SessionID())
	require.Equal(t, caretPalette[0], begun.Caret().Color())
	require.Equal(t, 0, begun.Caret().RevNum())

	require.NoError(t, s.End(ctx))
	require.Equal(t, 0, mgr.Count())

	// Peers observe the end_session op; the caret is gone.
	d, err := mgr.registry.GetDocument(ctx, "notes")
	require.NoError(t, err)
	caretSnap, err := d.Caret().Snapshot(ctx, ot.NoRevNum)
	require.NoError(t, err)
	require.True(t, caretSnap.Contents().IsEmpty())

	// The ended session rejects further calls.
	_, err = s.BodySnapshot(ctx, ot.NoRevNum)
	require.True(t, errors.Is(err, ot.ErrBadID))
	require.True(t, errors.Is(s.End(ctx), ot.ErrBadUse))
}

func TestSessionBodyEditing(t *testing.T) {
	var ctx = context.Background()
	var mgr = testManager(t, Config{})

	access, err := NewAuthorAccess(mgr, "alice")
	require.NoError(t, err)
	s, err := access.NewSession(ctx, "notes")
	require.NoError(t, err)

	var hello = ot.NewBodyDelta(mustOp(ot.NewTextOp("Hello", nil)))
	change, err := s.BodyUpdate(ctx, 0, hello)
	require.NoError(t, err)
	require.Equal(t, 1, change.RevNum)
	require.Equal(t, ot.AuthorID("alice"), change.AuthorID)
	require.False(t, change.Timestamp.IsZero())

	snap, err := s.BodySnapshot(ctx, ot.NoRevNum)
	require.NoError(t, err)
	require.Equal(t, "Hello", snap.Contents().PlainText())

	after, err := s.BodyDeltaAfter(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, after.RevNum)
	require.Empty(t, after.AuthorID)
}

func TestCaretUpdateTargetsOwnSession(t *testing.T) {
	var ctx = context.Background()
	var mgr = testManager(t, Config{})

	access, err := NewAuthorAccess(mgr, "alice")
	require.NoError(t, err)
	s, err := access.NewSession(ctx, "notes")
	require.NoError(t, err)

	var move = ot.NewCaretDelta(mustOp(ot.NewSetFieldOp(s.ID(), ot.CaretIndex, 7)))
	_, err = s.CaretUpdate(ctx, move)
	require.NoError(t, err)

	snap, err := s.CaretSnapshot(ctx, ot.NoRevNum)
	require.NoError(t, err)
	require.Equal(t, 7, snap.Contents().At(0).Caret().Index())

	// Ops aimed at another session's caret are rejected.
	var foreign = ot.NewCaretDelta(mustOp(ot.NewSetFieldOp("someone-else", ot.CaretIndex, 1)))
	_, err = s.CaretUpdate(ctx, foreign)
	require.True(t, errors.Is(err, ot.ErrBadUse))

	// So is ending the session through the caret surface.
	var sneaky = ot.NewCaretDelta(mustOp(ot.NewEndSessionOp(s.ID())))
	_, err = s.CaretUpdate(ctx, sneaky)
	require.True(t, errors.Is(err, ot.ErrBadUse))
}

func TestTwoSessionsSeeEachOther(t *testing.T) {
	var ctx = context.Background()
	var mgr = testManager(t, Config{})

	alice, err := NewAuthorAccess(mgr, "alice")
	require.NoError(t, err)
	bob, err := NewAuthorAccess(mgr, "bob")
	require.NoError(t, err)

	sa, err := alice.NewSession(ctx, "shared")
	require.NoError(t, err)
	sb, err := bob.NewSession(ctx, "shared")
	require.NoError(t, err)
	require.NotEqual(t, sa.ID(), sb.ID())

	snap, err := sa.CaretSnapshot(ctx, ot.NoRevNum)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Contents().Len())

	// The two carets carry distinct palette colors.
	require.NotEqual(t,
		snap.Contents().At(0).Caret().Color(),
		snap.Contents().At(1).Caret().Color())
}

func TestRebind(t *testing.T) {
	var ctx = context.Background()
	var mgr = testManager(t, Config{})

	alice, err := NewAuthorAccess(mgr, "alice")
	require.NoError(t, err)
	s, err := alice.NewSession(ctx, "notes")
	require.NoError(t, err)

	again, err := alice.Rebind(ctx, "notes", s.ID())
	require.NoError(t, err)
	require.Same(t, s, again)

	// Unknown triples rebind to nil without error.
	missing, err := alice.Rebind(ctx, "notes", "no-such-session")
	require.NoError(t, err)
	require.Nil(t, missing)

	missing, err = alice.Rebind(ctx, "other-doc", s.ID())
	require.NoError(t, err)
	require.Nil(t, missing)

	bob, err := NewAuthorAccess(mgr, "bob")
	require.NoError(t, err)
	missing, err = bob.Rebind(ctx, "notes", s.ID())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestIdleSweep(t *testing.T) {
	var ctx = context.Background()
	var mgr = testManager(t, Config{IdleTimeout: 50 * time.Millisecond})

	alice, err := NewAuthorAccess(mgr, "alice")
	require.NoError(t, err)
	idle, err := alice.NewSession(ctx, "notes")
	require.NoError(t, err)
	busy, err := alice.NewSession(ctx, "notes")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	require.True(t, mgr.markActive(busy.ID()))

	require.Equal(t, 1, mgr.Sweep(ctx))
	require.Equal(t, 1, mgr.Count())

	// The swept session's caret ended; the busy one remains.
	snap, err := busy.CaretSnapshot(ctx, ot.NoRevNum)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Contents().Len())
	require.Equal(t, busy.ID(), snap.Contents().At(0).SessionID())

	_, err = idle.BodySnapshot(ctx, ot.NoRevNum)
	require.True(t, errors.Is(err, ot.ErrBadID))
}
