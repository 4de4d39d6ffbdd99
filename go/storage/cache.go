package storage

import (
	"context"
	"sync"

	"github.com/marginalia/quill/go/ot"
)

// fileCache maps file ids to handles, building at most one handle per
// id even under concurrent GetFile calls. Concurrent callers for the
// same id share the first builder's outcome.
type fileCache struct {
	build func(ot.FileID) (FileHandle, error)

	mu      sync.Mutex
	handles map[ot.FileID]FileHandle
	pending map[ot.FileID]chan struct{}
}

func newFileCache(build func(ot.FileID) (FileHandle, error)) *fileCache {
	return &fileCache{
		build:   build,
		handles: make(map[ot.FileID]FileHandle),
		pending: make(map[ot.FileID]chan struct{}),
	}
}

func (c *fileCache) get(ctx context.Context, id ot.FileID) (FileHandle, error) {
	for {
		c.mu.Lock()
		if h, ok := c.handles[id]; ok {
			c.mu.Unlock()
			return h, nil
		}
		var wait, inFlight = c.pending[id]
		if !inFlight {
			wait = make(chan struct{})
			c.pending[id] = wait
		}
		c.mu.Unlock()

		if inFlight {
			select {
			case <-wait:
				continue // Re-check the cache.
			case <-ctx.Done():
				return nil, ctxErr(ctx, "awaiting file handle")
			}
		}

		var h, err = c.build(id)

		c.mu.Lock()
		if err == nil {
			c.handles[id] = h
		}
		delete(c.pending, id)
		close(wait)
		c.mu.Unlock()
		return h, err
	}
}

// size is the number of cached handles.
func (c *fileCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}
