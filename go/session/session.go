// Package session binds authenticated authors to documents. A Session
// is the unit of editing: it proxies body and caret operations to the
// document's coordinators, stamps authorship, and maintains the
// session's caret in the document's caret log.
package session

import (
	"context"

	"github.com/marginalia/quill/go/doc"
	"github.com/marginalia/quill/go/ot"
)

// Session is one author's live editing session on one document. Its id
// doubles as the caret id in the document's caret log.
type Session struct {
	mgr    *Manager
	id     ot.SessionID
	author ot.AuthorID
	doc    *doc.Document
}

// ID of the session.
func (s *Session) ID() ot.SessionID { return s.id }

// AuthorID owning the session.
func (s *Session) AuthorID() ot.AuthorID { return s.author }

// DocumentID the session edits.
func (s *Session) DocumentID() ot.DocumentID { return s.doc.ID() }

// LastActive is when the session last made an inbound call.
func (s *Session) LastActive() ot.Timestamp { return s.mgr.lastActive(s.id) }

// BodyUpdate submits a body delta against baseRevNum.
func (s *Session) BodyUpdate(ctx context.Context, baseRevNum int, delta ot.BodyDelta) (ot.BodyChange, error) {
	if err := s.touch(); err != nil {
		return ot.BodyChange{}, err
	}
	return s.doc.Body().Update(ctx, baseRevNum, delta, ot.Now(), s.author)
}

// BodySnapshot materializes the body at revNum, or at the current
// revision when revNum is NoRevNum.
func (s *Session) BodySnapshot(ctx context.Context, revNum int) (ot.BodySnapshot, error) {
	if err := s.touch(); err != nil {
		return ot.BodySnapshot{}, err
	}
	return s.doc.Body().Snapshot(ctx, revNum)
}

// BodyDeltaAfter blocks until the body moves past baseRevNum, then
// returns the squashed changes since it.
func (s *Session) BodyDeltaAfter(ctx context.Context, baseRevNum int) (ot.BodyChange, error) {
	if err := s.touch(); err != nil {
		return ot.BodyChange{}, err
	}
	return s.doc.Body().DeltaAfter(ctx, baseRevNum)
}

// CaretUpdate submits a caret delta. Every op must target this
// session's own caret.
func (s *Session) CaretUpdate(ctx context.Context, delta ot.CaretDelta) (ot.CaretChange, error) {
	if err := s.touch(); err != nil {
		return ot.CaretChange{}, err
	}
	for _, op := range delta.Ops() {
		if op.SessionID() != s.id {
			return ot.CaretChange{}, ot.BadUsef(
				"caret op targets session %q, not this session", string(op.SessionID()))
		}
		if op.Name() == ot.CaretEndSession {
			return ot.CaretChange{}, ot.BadUsef("end the session with session_end, not a caret op")
		}
	}
	return s.caretAppend(ctx, delta)
}

// CaretSnapshot materializes the caret log at revNum, or at the
// current revision when revNum is NoRevNum.
func (s *Session) CaretSnapshot(ctx context.Context, revNum int) (ot.CaretSnapshot, error) {
	if err := s.touch(); err != nil {
		return ot.CaretSnapshot{}, err
	}
	return s.doc.Caret().Snapshot(ctx, revNum)
}

// CaretDeltaAfter blocks until the caret log moves past baseRevNum,
// then returns the squashed changes since it.
func (s *Session) CaretDeltaAfter(ctx context.Context, baseRevNum int) (ot.CaretChange, error) {
	if err := s.touch(); err != nil {
		return ot.CaretChange{}, err
	}
	return s.doc.Caret().DeltaAfter(ctx, baseRevNum)
}

// PropertyUpdate submits a property delta against baseRevNum.
func (s *Session) PropertyUpdate(ctx context.Context, baseRevNum int, delta ot.PropertyDelta) (ot.PropertyChange, error) {
	if err := s.touch(); err != nil {
		return ot.PropertyChange{}, err
	}
	return s.doc.Property().Update(ctx, baseRevNum, delta, ot.Now(), s.author)
}

// PropertySnapshot materializes the property log at revNum, or at the
// current revision when revNum is NoRevNum.
func (s *Session) PropertySnapshot(ctx context.Context, revNum int) (ot.PropertySnapshot, error) {
	if err := s.touch(); err != nil {
		return ot.PropertySnapshot{}, err
	}
	return s.doc.Property().Snapshot(ctx, revNum)
}

// End terminates the session, removing its caret from peers' view.
// Ending twice is a badUse error.
func (s *Session) End(ctx context.Context) error {
	return s.mgr.end(ctx, s)
}

// caretAppend retries a caret append at the log's current revision.
// Caret deltas rebase trivially, so the coordinator's own retry loop
// handles contention.
func (s *Session) caretAppend(ctx context.Context, delta ot.CaretDelta) (ot.CaretChange, error) {
	var current, err = s.doc.Caret().CurrentRevNum(ctx)
	if err != nil {
		return ot.CaretChange{}, err
	}
	return s.doc.Caret().Update(ctx, current, delta, ot.Now(), s.author)
}

func (s *Session) touch() error {
	if !s.mgr.markActive(s.id) {
		return ot.BadIDf("session %q has ended", string(s.id))
	}
	return nil
}
