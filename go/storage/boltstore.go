package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/marginalia/quill/go/ot"
)

// BoltStore keeps the whole store in a single bbolt database file: one
// top-level bucket per file id, holding a "changes" sub-bucket keyed by
// big-endian revision number and a "meta" sub-bucket with the
// current-revision pointer. It implements the same append-only
// contract as LocalStore and is selected by configuration for
// single-file deployments.
type BoltStore struct {
	db    *bolt.DB
	path  string
	cache *fileCache
}

var (
	changesBucket = []byte("changes")
	metaBucket    = []byte("meta")
	currentKey    = []byte("current")
)

// NewBoltStore opens (creating if needed) a bolt-backed store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	var db, err = bolt.Open(path, 0640, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}
	var s = &BoltStore{db: db, path: path}
	s.cache = newFileCache(func(id ot.FileID) (FileHandle, error) {
		return &boltFile{store: s, id: id, notify: newNotifier()}, nil
	})
	return s, nil
}

// GetFile returns the handle for id, building at most one handle per
// id concurrently.
func (s *BoltStore) GetFile(ctx context.Context, id ot.FileID) (FileHandle, error) {
	if err := ot.CheckID(string(id)); err != nil {
		return nil, err
	}
	return s.cache.get(ctx, id)
}

// Stats counts files and approximates total size by the database
// file's size.
func (s *BoltStore) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	var err = s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, _ *bolt.Bucket) error {
			out.FileCount++
			return nil
		})
	})
	if err != nil {
		return Stats{}, fmt.Errorf("counting files: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		out.RoughSize = info.Size()
	}
	return out, nil
}

// Close closes the database.
func (s *BoltStore) Close() error { return s.db.Close() }

type boltFile struct {
	store *BoltStore
	id    ot.FileID

	mu     sync.Mutex // Serializes appends.
	notify *notifier
}

func (f *boltFile) ID() ot.FileID { return f.id }

func (f *boltFile) Exists(ctx context.Context) (bool, error) {
	var exists bool
	var err = f.store.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(f.id)) != nil
		return nil
	})
	return exists, err
}

func (f *boltFile) CurrentRevNum(ctx context.Context) (int, error) {
	var rev = ot.NoRevNum
	var err = f.store.db.View(func(tx *bolt.Tx) error {
		var b = tx.Bucket([]byte(f.id))
		if b == nil {
			return nil
		}
		rev = readCurrent(b)
		return nil
	})
	return rev, err
}

func readCurrent(b *bolt.Bucket) int {
	var meta = b.Bucket(metaBucket)
	if meta == nil {
		return ot.NoRevNum
	}
	var raw = meta.Get(currentKey)
	if raw == nil {
		return ot.NoRevNum
	}
	var rev, err = strconv.Atoi(string(raw))
	if err != nil || rev < 0 {
		return ot.NoRevNum
	}
	return rev
}

func (f *boltFile) AppendChange(ctx context.Context, revNum int, data []byte) (bool, error) {
	if err := ot.CheckRevNum(revNum); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var appended bool
	var err = f.store.db.Update(func(tx *bolt.Tx) error {
		var b, err = tx.CreateBucketIfNotExists([]byte(f.id))
		if err != nil {
			return err
		}
		var current = readCurrent(b)
		if revNum <= current {
			return nil // Lost the race.
		}
		if revNum != current+1 {
			return ot.BadUsef("append of revision %d when current is %d", revNum, current)
		}

		changes, err := b.CreateBucketIfNotExists(changesBucket)
		if err != nil {
			return err
		}
		if err := changes.Put(revKey(revNum), data); err != nil {
			return err
		}
		meta, err := b.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if err := meta.Put(currentKey, []byte(strconv.Itoa(revNum))); err != nil {
			return err
		}
		appended = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if appended {
		f.notify.broadcast()
	}
	return appended, nil
}

func (f *boltFile) GetChange(ctx context.Context, revNum int) ([]byte, error) {
	if err := ot.CheckRevNum(revNum); err != nil {
		return nil, err
	}
	var data []byte
	var err = f.store.db.View(func(tx *bolt.Tx) error {
		var b = tx.Bucket([]byte(f.id))
		if b == nil {
			return nil
		}
		var changes = b.Bucket(changesBucket)
		if changes == nil {
			return nil
		}
		if raw := changes.Get(revKey(revNum)); raw != nil {
			data = make([]byte, len(raw))
			copy(data, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ot.RevisionNotAvailablef("file %q has no revision %d", string(f.id), revNum)
	}
	return data, nil
}

func (f *boltFile) PathHash(ctx context.Context, path string) (Hash, error) {
	if path == RevPath {
		var rev, err = f.CurrentRevNum(ctx)
		if err != nil {
			return 0, err
		}
		if rev == ot.NoRevNum {
			return 0, nil
		}
		return HashBytes([]byte(strconv.Itoa(rev))), nil
	}
	if rev := parseChangePath(path); rev >= 0 {
		var data, err = f.GetChange(ctx, rev)
		if err != nil {
			if ot.KindOf(err) == ot.KindRevisionNotAvailable {
				return 0, nil
			}
			return 0, err
		}
		return HashBytes(data), nil
	}
	return 0, ot.BadValuef("unknown path %q", path)
}

func (f *boltFile) WhenPathIsNot(ctx context.Context, path string, known Hash) error {
	for {
		var wake = f.notify.wait()

		var h, err = f.PathHash(ctx, path)
		if err != nil {
			return err
		}
		if h != known {
			return nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return ctxErr(ctx, fmt.Sprintf("awaiting change of %q/%s", string(f.id), path))
		}
	}
}

func revKey(revNum int) []byte {
	var key = make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(revNum))
	return key
}
