package api

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/marginalia/quill/go/codec"
	"github.com/marginalia/quill/go/ot"
)

// Pusher lets a method deliver server-initiated notifications to its
// connection. Only Ws connections push; elsewhere Call.Pusher is nil.
type Pusher interface {
	// Push writes a notification from targetID to the peer.
	Push(targetID string, payload any) error
	// Closed resolves when the connection is gone.
	Closed() <-chan struct{}
}

// Call is one inbound invocation as seen by a method.
type Call struct {
	// TargetID the call was addressed to.
	TargetID string
	// Args are the still-encoded call arguments.
	Args []json.RawMessage
	// Label is the server-assigned short id for log correlation.
	Label string
	// Pusher is non-nil when the connection supports pushes.
	Pusher Pusher
}

// Method is one whitelisted capability of a target.
type Method func(ctx context.Context, call Call) (any, error)

// Target is a capability object reachable by remote id: a class name
// and its dispatch table. The table is fixed at construction; only
// named methods are callable.
type Target struct {
	class   string
	methods map[string]Method
}

// NewTarget builds a target of class with the given dispatch table.
func NewTarget(class string, methods map[string]Method) *Target {
	var copied = make(map[string]Method, len(methods))
	for name, m := range methods {
		copied[name] = m
	}
	return &Target{class: class, methods: copied}
}

// FuseTargets splices several capability providers into one dispatch
// table, rejecting duplicate method names at construction.
func FuseTargets(class string, parts ...*Target) (*Target, error) {
	var fused = &Target{class: class, methods: make(map[string]Method)}
	for _, part := range parts {
		for name, m := range part.methods {
			if _, ok := fused.methods[name]; ok {
				return nil, ot.BadUsef("fused target %q has duplicate method %q", class, name)
			}
			fused.methods[name] = m
		}
	}
	return fused, nil
}

// Class of the target.
func (t *Target) Class() string { return t.class }

// MethodNames lists the whitelisted methods, sorted.
func (t *Target) MethodNames() []string {
	var names = make([]string, 0, len(t.methods))
	for name := range t.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches a call, refusing methods outside the whitelist.
func (t *Target) Invoke(ctx context.Context, method string, call Call) (any, error) {
	var m, ok = t.methods[method]
	if !ok {
		return nil, ot.BadUsef("target class %q has no method %q", t.class, method)
	}
	return m(ctx, call)
}

// Argument decoding helpers shared by the domain targets.

func (c Call) argCount(want int) error {
	if len(c.Args) != want {
		return ot.BadValuef("call takes %d args, got %d", want, len(c.Args))
	}
	return nil
}

func (c Call) intArg(i int) (int, error) {
	var n int
	if err := json.Unmarshal(c.Args[i], &n); err != nil {
		return 0, ot.BadValuef("arg %d is not an integer", i)
	}
	return n, nil
}

func (c Call) stringArg(i int) (string, error) {
	var s string
	if err := json.Unmarshal(c.Args[i], &s); err != nil {
		return "", ot.BadValuef("arg %d is not a string", i)
	}
	return s, nil
}

// valueArg decodes an OT value (or plain data) argument.
func (c Call) valueArg(i int) (any, error) {
	return codec.Decode(c.Args[i])
}

func deltaArg[D ot.DeltaFlavor[D]](c Call, i int) (D, error) {
	var decoded, err = c.valueArg(i)
	if err != nil {
		var zero D
		return zero, err
	}
	d, ok := decoded.(D)
	if !ok {
		var zero D
		return zero, ot.BadValuef("arg %d is not a delta of the expected flavor", i)
	}
	return d, nil
}
