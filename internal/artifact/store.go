// Package artifact implements the append-only named byte blobs that model
// weights, configuration documents and uploaded files are assembled into.
//
// A Store is not synchronized. Mutations must be serialized by the owner;
// state.Process does that for the running service.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/medaiml/internal/errs"
)

// Well-known artifact keys used by the deployed models.
const (
	ClassifierWeights = "malaria_mobilenetSmall.safetensors"
	ClassifierConfig  = "config.json"
	TextModelWeights  = "biogpt_model.safetensors"
	TextModelConfig   = "bioGPT_config.json"
	UploadSlot        = "upload"
)

// Info describes the current state of one artifact.
type Info struct {
	Key       string    `json:"key"`
	Size      int       `json:"size"`
	Chunks    int       `json:"chunks"`
	Sealed    bool      `json:"sealed"`
	Digest    string    `json:"digest,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type blob struct {
	data   []byte
	chunks int
	sealed bool
	digest string
	mtime  time.Time
}

type Store struct {
	blobs map[string]*blob
	clock func() time.Time
}

func NewStore() *Store {
	return &Store{
		blobs: make(map[string]*blob),
		clock: time.Now,
	}
}

// Store replaces the content of key with b. Any seal is dropped.
func (s *Store) Store(key string, b []byte) {
	s.blobs[key] = &blob{
		data:   slices.Clone(b),
		chunks: 1,
		mtime:  s.clock(),
	}
}

// Append concatenates b to the content of key, treating a missing key as
// empty. Appending to a committed artifact fails with errs.ErrSealed.
func (s *Store) Append(key string, b []byte) error {
	cur, ok := s.blobs[key]
	if !ok {
		cur = &blob{}
		s.blobs[key] = cur
	}
	if cur.sealed {
		return fmt.Errorf("append %q: %w", key, errs.ErrSealed)
	}
	cur.data = append(cur.data, b...)
	cur.chunks++
	cur.mtime = s.clock()
	return nil
}

// Read returns a copy of the content of key, or an empty slice.
func (s *Store) Read(key string) []byte {
	cur, ok := s.blobs[key]
	if !ok {
		return []byte{}
	}
	out := make([]byte, len(cur.data))
	copy(out, cur.data)
	return out
}

// Clear resets key to empty.
func (s *Store) Clear(key string) {
	delete(s.blobs, key)
}

// Commit seals key and records the sha256 of its content. Readers never
// require a commit; it only guards against stray chunks after an upload is
// known to be complete.
func (s *Store) Commit(key string) (Info, error) {
	cur, ok := s.blobs[key]
	if !ok || len(cur.data) == 0 {
		return Info{}, errs.NewMissingArtifact(key)
	}
	sum := sha256.Sum256(cur.data)
	cur.sealed = true
	cur.digest = hex.EncodeToString(sum[:])
	return s.info(key, cur), nil
}

func (s *Store) Stat(key string) (Info, bool) {
	cur, ok := s.blobs[key]
	if !ok {
		return Info{Key: key}, false
	}
	return s.info(key, cur), true
}

// Keys returns the artifact keys in lexical order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len reports the size of key without copying it.
func (s *Store) Len(key string) int {
	if cur, ok := s.blobs[key]; ok {
		return len(cur.data)
	}
	return 0
}

func (s *Store) info(key string, b *blob) Info {
	return Info{
		Key:       key,
		Size:      len(b.data),
		Chunks:    b.chunks,
		Sealed:    b.sealed,
		Digest:    b.digest,
		UpdatedAt: b.mtime,
	}
}
