package capsule

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEvents   = []byte("events")
	bucketObjects  = []byte("objects")
	bucketBlobs    = []byte("blobs")
	bucketBranches = []byte("branches")
	bucketMeta     = []byte("meta")

	keyCurrentBranch = []byte("current_branch")
	keyCurrentPolicy = []byte("current_policy")
)

// BoltStore is a Store backed by a single bbolt file. Object bytes are kept
// once per content hash; each branch maps URIs to hashes.
type BoltStore struct {
	db        *bolt.DB
	workspace string
	now       func() time.Time

	mu      sync.Mutex
	current string
}

// Open opens or creates the store at path.
func Open(path, workspace string) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("capsule: db path is required")
	}
	if strings.TrimSpace(workspace) == "" {
		workspace = "default"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("capsule: opening %s: %w", path, err)
	}
	s := &BoltStore{db: db, workspace: workspace, now: time.Now, current: MainBranch}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEvents, bucketObjects, bucketBlobs, bucketBranches, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		branches := tx.Bucket(bucketBranches)
		if branches.Get([]byte(MainBranch)) == nil {
			data, err := json.Marshal(Branch{Name: MainBranch, CreatedAt: s.now().UTC()})
			if err != nil {
				return err
			}
			if err := branches.Put([]byte(MainBranch), data); err != nil {
				return err
			}
		}
		if _, err := tx.Bucket(bucketObjects).CreateBucketIfNotExists([]byte(MainBranch)); err != nil {
			return err
		}
		if cur := tx.Bucket(bucketMeta).Get(keyCurrentBranch); cur != nil {
			s.current = string(cur)
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Workspace returns the workspace id embedded in URIs.
func (s *BoltStore) Workspace() string { return s.workspace }

func (s *BoltStore) CurrentBranch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OpenBranch creates a branch forked from parent. Opening an existing
// branch is a no-op.
func (s *BoltStore) OpenBranch(name, parent string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("capsule: branch name is required")
	}
	if parent == "" {
		parent = MainBranch
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		branches := tx.Bucket(bucketBranches)
		if branches.Get([]byte(name)) != nil {
			return nil
		}
		if branches.Get([]byte(parent)) == nil {
			return fmt.Errorf("%w: parent branch %s", ErrNotFound, parent)
		}
		data, err := json.Marshal(Branch{Name: name, Parent: parent, CreatedAt: s.now().UTC()})
		if err != nil {
			return err
		}
		if err := branches.Put([]byte(name), data); err != nil {
			return err
		}
		_, err = tx.Bucket(bucketObjects).CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func (s *BoltStore) SwitchBranch(name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBranches).Get([]byte(name)) == nil {
			return fmt.Errorf("%w: branch %s", ErrNotFound, name)
		}
		return tx.Bucket(bucketMeta).Put(keyCurrentBranch, []byte(name))
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = name
	s.mu.Unlock()
	return nil
}

// EmitEvent appends e on the current branch and returns its id.
func (s *BoltStore) EmitEvent(e Event) (string, error) {
	id, err := nanoid.New()
	if err != nil {
		return "", err
	}
	e.ID = id
	if e.Branch == "" {
		e.Branch = s.CurrentBranch()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return "", fmt.Errorf("capsule: emitting %s: %w", e.Type, err)
	}
	return id, nil
}

// Events returns matching events in append order.
func (s *BoltStore) Events(f EventFilter) ([]Event, error) {
	var out []Event
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(_, v []byte) error {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			if f.match(e) {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// PutBytes stores data on the current branch and returns its URI. Writing
// the same path again overwrites the branch entry; the URI is unchanged.
func (s *BoltStore) PutBytes(specID, runID string, kind ObjectType, path string, data []byte) (string, error) {
	uri, err := URI(s.workspace, specID, runID, kind, path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	branch := s.CurrentBranch()
	err = s.db.Update(func(tx *bolt.Tx) error {
		blobs := tx.Bucket(bucketBlobs)
		if blobs.Get([]byte(hash)) == nil {
			if err := blobs.Put([]byte(hash), data); err != nil {
				return err
			}
		}
		entries, err := tx.Bucket(bucketObjects).CreateBucketIfNotExists([]byte(branch))
		if err != nil {
			return err
		}
		return entries.Put([]byte(uri), []byte(hash))
	})
	if err != nil {
		return "", fmt.Errorf("capsule: put %s: %w", uri, err)
	}
	return uri, nil
}

// GetBytes resolves uri on the current branch, then along its parents.
func (s *BoltStore) GetBytes(uri string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		branches := tx.Bucket(bucketBranches)
		objects := tx.Bucket(bucketObjects)
		seen := map[string]bool{}
		for branch := s.CurrentBranch(); branch != "" && !seen[branch]; {
			seen[branch] = true
			if entries := objects.Bucket([]byte(branch)); entries != nil {
				if hash := entries.Get([]byte(uri)); hash != nil {
					blob := tx.Bucket(bucketBlobs).Get(hash)
					if blob == nil {
						return fmt.Errorf("%w: blob for %s", ErrNotFound, uri)
					}
					out = append([]byte(nil), blob...)
					return nil
				}
			}
			var b Branch
			raw := branches.Get([]byte(branch))
			if raw == nil || json.Unmarshal(raw, &b) != nil {
				break
			}
			branch = b.Parent
		}
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) CurrentPolicy() (*PolicySnapshot, error) {
	var p *PolicySnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyCurrentPolicy)
		if raw == nil {
			return fmt.Errorf("%w: current policy", ErrNotFound)
		}
		p = &PolicySnapshot{}
		return json.Unmarshal(raw, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BoltStore) SetCurrentPolicy(p PolicySnapshot) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyCurrentPolicy, data)
	})
}

// MergeBranch copies object entries from one branch onto another and
// records a BranchMerged event. It returns the number of entries copied.
func (s *BoltStore) MergeBranch(from, to string, mode MergeMode) (int, error) {
	merged := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		src := objects.Bucket([]byte(from))
		if src == nil {
			return fmt.Errorf("%w: branch %s", ErrNotFound, from)
		}
		if tx.Bucket(bucketBranches).Get([]byte(to)) == nil {
			return fmt.Errorf("%w: branch %s", ErrNotFound, to)
		}
		dst, err := objects.CreateBucketIfNotExists([]byte(to))
		if err != nil {
			return err
		}
		return src.ForEach(func(k, v []byte) error {
			if mode == MergeCurated {
				switch KindOf(string(k)) {
				case ObjectArtifact, ObjectPolicy:
				default:
					return nil
				}
			}
			merged++
			return dst.Put(append([]byte(nil), k...), append([]byte(nil), v...))
		})
	})
	if err != nil {
		return 0, err
	}

	payload, _ := json.Marshal(map[string]any{"from": from, "to": to, "mode": mode, "merged": merged})
	if _, err := s.EmitEvent(Event{Type: EventBranchMerged, Branch: to, Payload: payload}); err != nil {
		return merged, err
	}
	return merged, nil
}

func seqKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}
