package storage

import (
	"fmt"

	"github.com/minio/highwayhash"
)

// Hash is a content hash of a stored path. The zero Hash is the hash
// of absent content.
type Hash uint64

// hashKey keys the highwayhash function. It's fixed: hashes are
// compared only within one process and never persisted.
var hashKey = []byte("quill.storage.pathhash.v1.00000\x00")

// HashBytes hashes content. Absent content (nil) hashes to zero.
func HashBytes(data []byte) Hash {
	if data == nil {
		return 0
	}
	return Hash(highwayhash.Sum64(data, hashKey))
}

func (h Hash) String() string { return fmt.Sprintf("%016x", uint64(h)) }
