// Package api is the RPC surface: the wire envelope, the capability
// context mapping target ids to live objects, and the Post and Ws
// connection kinds that dispatch calls to them.
package api

import (
	"encoding/json"

	"github.com/marginalia/quill/go/auth"
	"github.com/marginalia/quill/go/codec"
	"github.com/marginalia/quill/go/ot"
)

// Request is the wire form of one call. The bearer token travels only
// in the authorToken field, never in the URL.
type Request struct {
	TargetID    string            `json:"targetId"`
	Method      string            `json:"method"`
	Args        []json.RawMessage `json:"args"`
	ReqID       string            `json:"reqId,omitempty"`
	AuthorToken auth.BearerToken  `json:"authorToken,omitempty"`
}

// Response is the wire form of one result. Pushed notifications carry
// no ReqID and name their target instead.
type Response struct {
	ReqID    string          `json:"reqId,omitempty"`
	OK       bool            `json:"ok"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *ErrorDetails   `json:"error,omitempty"`
	PushFrom string          `json:"pushFrom,omitempty"`
}

// ErrorDetails is the sanitized error payload.
type ErrorDetails struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// okResponse encodes result for the wire.
func okResponse(reqID string, result any) Response {
	var encoded, err = codec.Encode(result)
	if err != nil {
		return errResponse(reqID, err)
	}
	return Response{ReqID: reqID, OK: true, Result: encoded}
}

// errResponse maps err to its wire form. Internal kinds keep their
// kind but not their message.
func errResponse(reqID string, err error) Response {
	var details = ErrorDetails{Kind: "internal", Message: "internal error"}
	switch kind := ot.KindOf(err); kind {
	case ot.KindBadValue, ot.KindBadUse, ot.KindTimedOut, ot.KindRevisionNotAvailable, ot.KindBadID:
		details = ErrorDetails{Kind: kind.String(), Message: err.Error()}
	case ot.KindBadData:
		// Stored-data faults are logged server-side with full context;
		// the caller learns only the kind.
		details.Kind = kind.String()
	}
	return Response{ReqID: reqID, OK: false, Error: &details}
}
