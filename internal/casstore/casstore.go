// Package casstore implements the content-addressed blob+tree store
// from the core spec's §4.1. Grounded in dalec's use of
// github.com/opencontainers/go-digest for content addressing and the
// containerd content-store convention of sharding blobs under
// objects/<2-char-prefix>/<rest>, and in dalec's use of
// github.com/moby/patternmatcher for include/exclude filtering when
// importing a filesystem subtree.
package casstore

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/moby/patternmatcher"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// EntryKind distinguishes the three node types a Directory's entries
// can be, per core spec §4.1.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindSymlink
)

// Entry is one record in a Directory's Merkle-tree blob.
type Entry struct {
	Name       string
	Kind       EntryKind
	Digest     digest.Digest
	Executable bool
	// Target is the symlink target, only set when Kind == KindSymlink.
	Target string
}

// Directory is the decoded form of a directory blob: an ordered list
// of entries, sorted by name for deterministic digesting.
type Directory struct {
	Entries []Entry
}

// ErrMissingBlob is returned when a read references a digest not
// present in the store.
var ErrMissingBlob = errors.New("missing blob")

// ErrCorruptBlob is returned when a blob's content does not hash to
// its claimed digest.
var ErrCorruptBlob = errors.New("corrupt blob")

// Store is a filesystem-backed content-addressed object store, rooted
// at objects/<2>/<rest> the way core spec §6 lays out cas/objects
// under the cache directory.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating the objects directory
// if needed.
func Open(dir string) (*Store, error) {
	objects := filepath.Join(dir, "objects")
	if err := os.MkdirAll(objects, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: dir}, nil
}

func (s *Store) blobPath(d digest.Digest) string {
	enc := d.Encoded()
	return filepath.Join(s.root, "objects", enc[:2], enc[2:])
}

// ContainsBlob reports whether a blob for digest d is present.
func (s *Store) ContainsBlob(d digest.Digest) bool {
	_, err := os.Stat(s.blobPath(d))
	return err == nil
}

// AddBlob stores data under its sha256 digest, idempotently: a
// concurrent or repeated add of identical content is a no-op.
func (s *Store) AddBlob(data []byte) (digest.Digest, error) {
	d := digest.FromBytes(data)
	path := s.blobPath(d)
	if _, err := os.Stat(path); err == nil {
		return d, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return d, nil
}

// GetBlob reads back a blob, verifying its content matches d.
func (s *Store) GetBlob(d digest.Digest) ([]byte, error) {
	path := s.blobPath(d)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissingBlob
		}
		return nil, err
	}
	if digest.FromBytes(data) != d {
		return nil, ErrCorruptBlob
	}
	return data, nil
}

// AddTree imports a filesystem subtree rooted at localPath into the
// store, deduplicating identical file content, and returns the digest
// of its root Directory blob.
func (s *Store) AddTree(localPath string) (digest.Digest, error) {
	return s.AddTreeFiltered(localPath, nil)
}

// AddTreeFiltered is AddTree with an include/exclude pass applied
// first, using the same github.com/moby/patternmatcher syntax as a
// .dockerignore file (a trailing "!pattern" re-includes). Entries
// matched by excludes are omitted from the imported tree entirely, so
// an element's source filters (e.g. dropping a .git directory before
// staging) never even reach the content store.
func (s *Store) AddTreeFiltered(localPath string, excludes []string) (digest.Digest, error) {
	var pm *patternmatcher.PatternMatcher
	if len(excludes) > 0 {
		m, err := patternmatcher.New(excludes)
		if err != nil {
			return "", errors.Wrap(err, "casstore: invalid exclude pattern")
		}
		pm = m
	}
	return s.addTree(localPath, "", pm)
}

func (s *Store) addTree(localPath, relPrefix string, pm *patternmatcher.PatternMatcher) (digest.Digest, error) {
	entries, err := os.ReadDir(localPath)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(entries))
	byName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
		byName[e.Name()] = e
	}
	sort.Strings(names)

	var dir Directory
	for _, name := range names {
		e := byName[name]
		full := filepath.Join(localPath, name)
		rel := name
		if relPrefix != "" {
			rel = relPrefix + "/" + name
		}

		if pm != nil {
			matched, err := pm.Matches(rel)
			if err != nil {
				return "", errors.Wrapf(err, "casstore: matching %s", rel)
			}
			if matched {
				continue
			}
		}

		info, err := e.Info()
		if err != nil {
			return "", err
		}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return "", err
			}
			dir.Entries = append(dir.Entries, Entry{Name: name, Kind: KindSymlink, Target: target})
		case e.IsDir():
			d, err := s.addTree(full, rel, pm)
			if err != nil {
				return "", err
			}
			dir.Entries = append(dir.Entries, Entry{Name: name, Kind: KindDirectory, Digest: d})
		default:
			data, err := os.ReadFile(full)
			if err != nil {
				return "", err
			}
			d, err := s.AddBlob(data)
			if err != nil {
				return "", err
			}
			dir.Entries = append(dir.Entries, Entry{
				Name:       name,
				Kind:       KindFile,
				Digest:     d,
				Executable: info.Mode()&0o100 != 0,
			})
		}
	}

	blob := encodeDirectory(dir)
	return s.AddBlob(blob)
}

// ContainsDirectory verifies a directory blob (and, recursively, all
// of its descendants) is present. When withFiles is false, only the
// tree spine (directory blobs) need be present, not leaf file blobs,
// per core spec §4.1.
func (s *Store) ContainsDirectory(d digest.Digest, withFiles bool) bool {
	if !s.ContainsBlob(d) {
		return false
	}
	data, err := s.GetBlob(d)
	if err != nil {
		return false
	}
	dir, err := decodeDirectory(data)
	if err != nil {
		return false
	}
	for _, e := range dir.Entries {
		switch e.Kind {
		case KindDirectory:
			if !s.ContainsDirectory(e.Digest, withFiles) {
				return false
			}
		case KindFile:
			if withFiles && !s.ContainsBlob(e.Digest) {
				return false
			}
		}
	}
	return true
}

// Extract materializes the tree at digest d to dest, recreating empty
// directories and preserving the executable bit and symlink targets
// (core spec §8 property 10: round-trip fidelity).
func (s *Store) Extract(d digest.Digest, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	data, err := s.GetBlob(d)
	if err != nil {
		return err
	}
	dir, err := decodeDirectory(data)
	if err != nil {
		return err
	}
	for _, e := range dir.Entries {
		target := filepath.Join(dest, e.Name)
		switch e.Kind {
		case KindDirectory:
			if err := s.Extract(e.Digest, target); err != nil {
				return err
			}
		case KindSymlink:
			if err := os.Symlink(e.Target, target); err != nil {
				return err
			}
		case KindFile:
			data, err := s.GetBlob(e.Digest)
			if err != nil {
				return err
			}
			mode := os.FileMode(0o644)
			if e.Executable {
				mode = 0o755
			}
			if err := os.WriteFile(target, data, mode); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddFile is a convenience for staging a single file's bytes and
// returning its digest, used by callers (e.g. artifact assembly) that
// need to address an individual blob without a directory around it.
func (s *Store) AddFile(r io.Reader) (digest.Digest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return s.AddBlob(data)
}
