package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/marginalia/quill/go/ot"
)

// LocalStore keeps each file as a directory of individually numbered
// change files plus a current-revision pointer:
//
//	<root>/<encodeURIComponent(fileId)>/change-<rev>.json
//	<root>/<encodeURIComponent(fileId)>/current
//
// The pointer is updated by atomic rename, and a missing or stale
// pointer is recovered by scanning the change files.
type LocalStore struct {
	root  string
	cache *fileCache
}

// NewLocalStore opens (creating if needed) a store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	var s = &LocalStore{root: dir}
	s.cache = newFileCache(func(id ot.FileID) (FileHandle, error) {
		return &localFile{
			id:      id,
			dir:     filepath.Join(dir, encodePathComponent(string(id))),
			current: ot.NoRevNum,
			notify:  newNotifier(),
		}, nil
	})
	return s, nil
}

// GetFile returns the handle for id, building at most one handle per
// id concurrently.
func (s *LocalStore) GetFile(ctx context.Context, id ot.FileID) (FileHandle, error) {
	if err := ot.CheckID(string(id)); err != nil {
		return nil, err
	}
	return s.cache.get(ctx, id)
}

// Stats walks the store root, counting files and summing stored bytes.
func (s *LocalStore) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	var entries, err = os.ReadDir(s.root)
	if err != nil {
		return Stats{}, fmt.Errorf("reading store root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		out.FileCount++
		var walkErr = filepath.WalkDir(filepath.Join(s.root, e.Name()), func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if info, err := d.Info(); err == nil {
				out.RoughSize += info.Size()
			}
			return nil
		})
		if walkErr != nil {
			log.WithFields(log.Fields{"dir": e.Name(), "err": walkErr}).Warn("failed to size file directory")
		}
	}
	return out, nil
}

// Close releases nothing; the local store holds no open descriptors
// between operations.
func (s *LocalStore) Close() error { return nil }

type localFile struct {
	id  ot.FileID
	dir string

	mu      sync.Mutex
	scanned bool
	current int // Latest appended revision; ot.NoRevNum when empty.

	notify *notifier
}

func (f *localFile) ID() ot.FileID { return f.id }

func (f *localFile) Exists(ctx context.Context) (bool, error) {
	var _, err = os.Stat(f.dir)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("probing %q: %w", f.dir, err)
}

func (f *localFile) CurrentRevNum(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentLocked()
}

func (f *localFile) currentLocked() (int, error) {
	if f.scanned {
		return f.current, nil
	}
	var rev, err = f.scan()
	if err != nil {
		return 0, err
	}
	f.current = rev
	f.scanned = true
	return rev, nil
}

// scan recovers the current revision from disk: the pointer file if
// it's present and consistent, else the highest change file. A pointer
// lagging the change files (a crash between append and pointer update)
// rolls forward.
func (f *localFile) scan() (int, error) {
	var best = ot.NoRevNum

	if data, err := os.ReadFile(filepath.Join(f.dir, pointerName)); err == nil {
		if rev, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && rev >= 0 {
			best = rev
		}
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("reading revision pointer: %w", err)
	}

	var entries, err = os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return ot.NoRevNum, nil
	} else if err != nil {
		return 0, fmt.Errorf("scanning %q: %w", f.dir, err)
	}
	for _, e := range entries {
		if rev := parseChangeName(e.Name()); rev > best {
			best = rev
		}
	}
	return best, nil
}

func (f *localFile) AppendChange(ctx context.Context, revNum int, data []byte) (bool, error) {
	if err := ot.CheckRevNum(revNum); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var current, err = f.currentLocked()
	if err != nil {
		return false, err
	}
	if revNum <= current {
		return false, nil // Lost the race.
	}
	if revNum != current+1 {
		return false, ot.BadUsef("append of revision %d when current is %d", revNum, current)
	}

	if current == ot.NoRevNum {
		if err := os.MkdirAll(f.dir, 0750); err != nil {
			return false, fmt.Errorf("creating %q: %w", f.dir, err)
		}
	}

	var path = filepath.Join(f.dir, changeName(revNum))
	var file, errO = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if os.IsExist(errO) {
		return false, nil // Lost the race to another process.
	} else if errO != nil {
		return false, fmt.Errorf("creating change file: %w", errO)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return false, fmt.Errorf("writing change file: %w", err)
	}
	if err := file.Close(); err != nil {
		return false, fmt.Errorf("closing change file: %w", err)
	}

	if err := f.writePointer(revNum); err != nil {
		return false, err
	}
	f.current = revNum
	f.notify.broadcast()
	return true, nil
}

// writePointer updates the current-revision pointer via rename.
func (f *localFile) writePointer(revNum int) error {
	var tmp = filepath.Join(f.dir, pointerName+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(revNum)+"\n"), 0640); err != nil {
		return fmt.Errorf("writing revision pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(f.dir, pointerName)); err != nil {
		return fmt.Errorf("committing revision pointer: %w", err)
	}
	return nil
}

func (f *localFile) GetChange(ctx context.Context, revNum int) ([]byte, error) {
	if err := ot.CheckRevNum(revNum); err != nil {
		return nil, err
	}
	var data, err = os.ReadFile(filepath.Join(f.dir, changeName(revNum)))
	if os.IsNotExist(err) {
		return nil, ot.RevisionNotAvailablef("file %q has no revision %d", string(f.id), revNum)
	} else if err != nil {
		return nil, fmt.Errorf("reading change %d: %w", revNum, err)
	}
	return data, nil
}

func (f *localFile) PathHash(ctx context.Context, path string) (Hash, error) {
	var name string
	if path == RevPath {
		name = pointerName
	} else if rev := parseChangePath(path); rev >= 0 {
		name = changeName(rev)
	} else {
		return 0, ot.BadValuef("unknown path %q", path)
	}

	var data, err = os.ReadFile(filepath.Join(f.dir, name))
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("hashing %q: %w", path, err)
	}
	return HashBytes(data), nil
}

func (f *localFile) WhenPathIsNot(ctx context.Context, path string, known Hash) error {
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

const pointerName = "current"

func changeName(revNum int) string { return fmt.Sprintf("change-%d.json", revNum) }

// parseChangeName inverts changeName, returning -1 for other names.
func parseChangeName(name string) int {
	var rest, ok = strings.CutPrefix(name, "change-")
	if !ok {
		return -1
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return -1
	}
	var rev, err = strconv.Atoi(rest)
	if err != nil || rev < 0 {
		return -1
	}
	return rev
}

// encodePathComponent escapes a file id for use as a directory name,
// with the same escaping rules as JavaScript's encodeURIComponent.
func encodePathComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		var c = s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '_' || c == '.' || c == '!' || c == '~' ||
			c == '*' || c == '\'' || c == '(' || c == ')':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
