package doc

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/marginalia/quill/go/codec"
	"github.com/marginalia/quill/go/ot"
	"github.com/marginalia/quill/go/storage"
)

// A document is three coordinated change logs over one store:
// the rich-text body, the carets of its live sessions, and its named
// properties. Log file ids derive from the document id with a reserved
// suffix, so a document id may be at most 58 characters.
const (
	bodySuffix     = ".body"
	caretSuffix    = ".caret"
	propertySuffix = ".props"
)

// FileIDs returns the three log file ids of a document.
func FileIDs(id ot.DocumentID) (body, caret, property ot.FileID) {
	return ot.FileID(string(id) + bodySuffix),
		ot.FileID(string(id) + caretSuffix),
		ot.FileID(string(id) + propertySuffix)
}

// Document is the live handle for one document.
type Document struct {
	id       ot.DocumentID
	body     *Coordinator[ot.BodyDelta]
	caret    *Coordinator[ot.CaretDelta]
	property *Coordinator[ot.PropertyDelta]
}

// ID of the document.
func (d *Document) ID() ot.DocumentID { return d.id }

// Body log coordinator.
func (d *Document) Body() *Coordinator[ot.BodyDelta] { return d.body }

// Caret log coordinator.
func (d *Document) Caret() *Coordinator[ot.CaretDelta] { return d.caret }

// Property log coordinator.
func (d *Document) Property() *Coordinator[ot.PropertyDelta] { return d.property }

// Exists probes whether the document has been created in the store.
func (d *Document) Exists(ctx context.Context) (bool, error) {
	return d.body.file.Exists(ctx)
}

// Registry hands out Document handles over a store, creating each
// document's logs on first access.
type Registry struct {
	store storage.Store
	opts  Options

	mu   sync.Mutex
	docs map[ot.DocumentID]*Document
}

// NewRegistry builds a registry over store.
func NewRegistry(store storage.Store, opts Options) *Registry {
	return &Registry{store: store, opts: opts, docs: make(map[ot.DocumentID]*Document)}
}

// GetDocument returns the handle for id, creating the document's logs
// on first access.
func (r *Registry) GetDocument(ctx context.Context, id ot.DocumentID) (*Document, error) {
	if err := ot.CheckID(string(id)); err != nil {
		return nil, err
	}
	var bodyID, caretID, propertyID = FileIDs(id)
	if err := ot.CheckID(string(bodyID)); err != nil {
		return nil, ot.BadValuef("document id %q is too long", string(id))
	}

	r.mu.Lock()
	if d, ok := r.docs[id]; ok {
		r.mu.Unlock()
		return d, nil
	}
	r.mu.Unlock()

	var d = &Document{id: id}
	var err error
	if d.body, err = coordinatorOf(ctx, r.store, bodyID, codec.BodyChanges, r.opts); err != nil {
		return nil, err
	}
	if d.caret, err = coordinatorOf(ctx, r.store, caretID, codec.CaretChanges, r.opts); err != nil {
		return nil, err
	}
	if d.property, err = coordinatorOf(ctx, r.store, propertyID, codec.PropertyChanges, r.opts); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.docs[id]; ok {
		return prior, nil // Another caller built it first.
	}
	r.docs[id] = d
	log.WithField("document", id).Info("opened document")
	return d, nil
}

func coordinatorOf[D ot.DeltaFlavor[D]](ctx context.Context, store storage.Store, id ot.FileID, cc codec.ChangeCodec[D], opts Options) (*Coordinator[D], error) {
	var file, err = store.GetFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("opening log %q: %w", string(id), err)
	}
	var c = NewCoordinator(file, cc, opts)
	if err = c.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing log %q: %w", string(id), err)
	}
	return c, nil
}

// Count of live document handles.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}
