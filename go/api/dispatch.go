package api

import (
	"context"
	"errors"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/marginalia/quill/go/auth"
	"github.com/marginalia/quill/go/ot"
	"github.com/marginalia/quill/go/session"
)

// Reserved target ids. Calls addressed to them authenticate with the
// envelope's authorToken; every other target id is a capability minted
// into the shared Context.
const (
	RootTargetID   = "root"
	AuthorTargetID = "author"
)

// Dispatcher resolves and invokes calls for both connection kinds.
type Dispatcher struct {
	context   *Context
	authority auth.Authority
	sessions  *session.Manager
	apiURL    string
	root      *Target
}

// NewDispatcher wires the capability targets over a shared context.
// Dev mode adds the token-override method to the root target.
func NewDispatcher(c *Context, authority auth.Authority, sessions *session.Manager, apiURL string, devMode bool) (*Dispatcher, error) {
	var d = &Dispatcher{
		context:   c,
		authority: authority,
		sessions:  sessions,
		apiURL:    apiURL,
	}

	// The root target fuses the minting capability with the dev-mode
	// overrides; fusion rejects any method-name collision.
	var parts = []*Target{d.mintingTarget()}
	if devMode {
		parts = append(parts, d.devTarget())
	}
	var err error
	if d.root, err = FuseTargets("Root", parts...); err != nil {
		return nil, err
	}
	return d, nil
}

// Dispatch resolves req's target, invokes the method, and builds the
// response envelope. pusher is nil for connections without push
// support.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, pusher Pusher) Response {
	var label = uuid.NewString()[:8]
	var logger = log.WithFields(log.Fields{
		"label":  label,
		"target": req.TargetID,
		"method": req.Method,
	})

	var target, err = d.resolve(ctx, req)
	if err != nil {
		logger.WithField("err", err).Warn("failed to resolve call target")
		return errResponse(req.ReqID, err)
	}

	result, err := target.Invoke(ctx, req.Method, Call{
		TargetID: req.TargetID,
		Args:     req.Args,
		Label:    label,
		Pusher:   pusher,
	})
	if err != nil {
		if ot.KindOf(err) == ot.KindBadData {
			logger.WithField("err", err).Error("call failed on stored data")
		} else {
			logger.WithField("err", err).Warn("call failed")
		}
		return errResponse(req.ReqID, err)
	}
	return okResponse(req.ReqID, result)
}

// resolve maps a target id to its dispatch table. The root and author
// ids authenticate from the envelope token on every call.
func (d *Dispatcher) resolve(ctx context.Context, req Request) (*Target, error) {
	switch req.TargetID {
	case RootTargetID:
		if err := d.authority.VerifyRoot(ctx, req.AuthorToken); err != nil {
			return nil, err
		}
		return d.root, nil
	case AuthorTargetID:
		var author, err = d.authority.ResolveAuthor(ctx, req.AuthorToken)
		if err != nil {
			return nil, err
		}
		access, err := session.NewAuthorAccess(d.sessions, author)
		if err != nil {
			return nil, err
		}
		return d.authorTarget(access), nil
	default:
		return d.context.Get(req.TargetID)
	}
}

// mintingTarget is the root capability: SessionInfo minting.
func (d *Dispatcher) mintingTarget() *Target {
	return NewTarget("RootMinting", map[string]Method{
		"session_info": func(ctx context.Context, call Call) (any, error) {
			if err := call.argCount(2); err != nil {
				return nil, err
			}
			var author, err = call.stringArg(0)
			if err != nil {
				return nil, err
			}
			docID, err := call.stringArg(1)
			if err != nil {
				return nil, err
			}
			if err = ot.CheckID(docID); err != nil {
				return nil, err
			}
			token, err := d.authority.MintAuthorToken(ctx, ot.AuthorID(author))
			if err != nil {
				return nil, err
			}
			return auth.SessionInfo{
				APIURL:      d.apiURL,
				AuthorToken: token,
				DocumentID:  ot.DocumentID(docID),
			}, nil
		},
	})
}

// devTarget is the dev-only root capability: token overrides.
func (d *Dispatcher) devTarget() *Target {
	return NewTarget("RootDev", map[string]Method{
		"use_token": func(ctx context.Context, call Call) (any, error) {
			if err := call.argCount(2); err != nil {
				return nil, err
			}
			var author, err = call.stringArg(0)
			if err != nil {
				return nil, err
			}
			token, err := call.stringArg(1)
			if err != nil {
				return nil, err
			}
			var local, ok = d.authority.(*auth.LocalAuthority)
			if !ok {
				return nil, ot.BadUsef("token overrides need the local authority")
			}
			if err = local.UseToken(ot.AuthorID(author), auth.BearerToken(token)); err != nil {
				return nil, err
			}
			return true, nil
		},
	})
}

// sessionRef is what session minting and rebinding return: the id of
// the session's wire target plus its identity.
type sessionRef struct {
	TargetID   string `json:"targetId"`
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
}

// authorTarget exposes session minting and rebinding for one author.
func (d *Dispatcher) authorTarget(access *session.AuthorAccess) *Target {
	return NewTarget("Author", map[string]Method{
		"session_new": func(ctx context.Context, call Call) (any, error) {
			if err := call.argCount(1); err != nil {
				return nil, err
			}
			var docID, err = call.stringArg(0)
			if err != nil {
				return nil, err
			}
			s, err := access.NewSession(ctx, ot.DocumentID(docID))
			if err != nil {
				return nil, err
			}
			var targetID = d.context.Add(d.sessionTarget(s))
			return sessionRef{
				TargetID:   targetID,
				SessionID:  string(s.ID()),
				DocumentID: docID,
			}, nil
		},
		"session_rebind": func(ctx context.Context, call Call) (any, error) {
			if err := call.argCount(2); err != nil {
				return nil, err
			}
			var docID, err = call.stringArg(0)
			if err != nil {
				return nil, err
			}
			sessionID, err := call.stringArg(1)
			if err != nil {
				return nil, err
			}
			s, err := access.Rebind(ctx, ot.DocumentID(docID), ot.SessionID(sessionID))
			if err != nil {
				return nil, err
			}
			if s == nil {
				return nil, nil // Unknown triples rebind to null.
			}
			var targetID = d.context.Add(d.sessionTarget(s))
			return sessionRef{
				TargetID:   targetID,
				SessionID:  string(s.ID()),
				DocumentID: docID,
			}, nil
		},
	})
}

// sessionTarget exposes one live session's editing surface.
func (d *Dispatcher) sessionTarget(s *session.Session) *Target {
	return NewTarget("Session", map[string]Method{
		"body_update": func(ctx context.Context, call Call) (any, error) {
			if err := call.argCount(2); err != nil {
				return nil, err
			}
			var base, err = call.intArg(0)
			if err != nil {
				return nil, err
			}
			delta, err := deltaArg[ot.BodyDelta](call, 1)
			if err != nil {
				return nil, err
			}
			return s.BodyUpdate(ctx, base, delta)
		},
		"body_snapshot": func(ctx context.Context, call Call) (any, error) {
			var revNum, err = optRevArg(call)
			if err != nil {
				return nil, err
			}
			return s.BodySnapshot(ctx, revNum)
		},
		"body_deltaAfter": func(ctx context.Context, call Call) (any, error) {
			if err := call.argCount(1); err != nil {
				return nil, err
			}
			var base, err = call.intArg(0)
			if err != nil {
				return nil, err
			}
			return s.BodyDeltaAfter(ctx, base)
		},
		"body_watch": func(ctx context.Context, call Call) (any, error) {
			return d.watch(call, func(ctx context.Context, base int) (pushable, error) {
				return s.BodyDeltaAfter(ctx, base)
			})
		},
		"caret_update": func(ctx context.Context, call Call) (any, error) {
			if err := call.argCount(1); err != nil {
				return nil, err
			}
			var delta, err = deltaArg[ot.CaretDelta](call, 0)
			if err != nil {
				return nil, err
			}
			return s.CaretUpdate(ctx, delta)
		},
		"caret_snapshot": func(ctx context.Context, call Call) (any, error) {
			var revNum, err = optRevArg(call)
			if err != nil {
				return nil, err
			}
			return s.CaretSnapshot(ctx, revNum)
		},
		"caret_deltaAfter": func(ctx context.Context, call Call) (any, error) {
			if err := call.argCount(1); err != nil {
				return nil, err
			}
			var base, err = call.intArg(0)
			if err != nil {
				return nil, err
			}
			return s.CaretDeltaAfter(ctx, base)
		},
		"caret_watch": func(ctx context.Context, call Call) (any, error) {
			return d.watch(call, func(ctx context.Context, base int) (pushable, error) {
				return s.CaretDeltaAfter(ctx, base)
			})
		},
		"property_update": func(ctx context.Context, call Call) (any, error) {
			if err := call.argCount(2); err != nil {
				return nil, err
			}
			var base, err = call.intArg(0)
			if err != nil {
				return nil, err
			}
			delta, err := deltaArg[ot.PropertyDelta](call, 1)
			if err != nil {
				return nil, err
			}
			return s.PropertyUpdate(ctx, base, delta)
		},
		"property_snapshot": func(ctx context.Context, call Call) (any, error) {
			var revNum, err = optRevArg(call)
			if err != nil {
				return nil, err
			}
			return s.PropertySnapshot(ctx, revNum)
		},
		"session_end": func(ctx context.Context, call Call) (any, error) {
			if err := s.End(ctx); err != nil {
				return nil, err
			}
			d.context.Remove(call.TargetID)
			return true, nil
		},
	})
}

// pushable is a change of any flavor, as delivered by a watch.
type pushable = any

// watch spawns a long-lived task that pushes every change past the
// watched revision to the connection, until the connection closes.
func (d *Dispatcher) watch(call Call, after func(context.Context, int) (pushable, error)) (any, error) {
	if call.Pusher == nil {
		return nil, ot.BadUsef("watch needs a connection with push support")
	}
	if err := call.argCount(1); err != nil {
		return nil, err
	}
	var base, err = call.intArg(0)
	if err != nil {
		return nil, err
	}

	var pusher, targetID, label = call.Pusher, call.TargetID, call.Label
	go func() {
		var ctx, cancel = context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-pusher.Closed()
			cancel()
		}()

		for {
			var change, err = after(ctx, base)
			if err != nil {
				// The wait is bounded by the store's timeout clamp;
				// expiry on an idle document just means wait again.
				if errors.Is(err, ot.ErrTimedOut) && ctx.Err() == nil {
					continue
				}
				if ctx.Err() == nil {
					log.WithFields(log.Fields{"label": label, "err": err}).Warn("watch stopped")
				}
				return
			}
			if err = pusher.Push(targetID, change); err != nil {
				return
			}
			switch c := change.(type) {
			case ot.BodyChange:
				base = c.RevNum
			case ot.CaretChange:
				base = c.RevNum
			case ot.PropertyChange:
				base = c.RevNum
			}
		}
	}()
	return base, nil
}

// optRevArg reads an optional revision argument: absent or null means
// the current revision.
func optRevArg(call Call) (int, error) {
	if len(call.Args) == 0 {
		return ot.NoRevNum, nil
	}
	if err := call.argCount(1); err != nil {
		return 0, err
	}
	if string(call.Args[0]) == "null" {
		return ot.NoRevNum, nil
	}
	return call.intArg(0)
}

// ContextTargets is the count of live minted targets, for /var.
func (d *Dispatcher) ContextTargets() int { return d.context.Count() }
