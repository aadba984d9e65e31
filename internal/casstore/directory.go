package casstore

import (
	"encoding/json"

	digest "github.com/opencontainers/go-digest"
)

func parseDigest(s string) (digest.Digest, error) {
	return digest.Parse(s)
}

// directoryEntryJSON is the on-disk encoding for one Directory entry.
// Kept separate from Entry so the digest.Digest type (which already
// marshals as its string form) round-trips without a custom codec.
type directoryEntryJSON struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Digest     string `json:"digest,omitempty"`
	Executable bool   `json:"executable,omitempty"`
	Target     string `json:"target,omitempty"`
}

func kindString(k EntryKind) string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

func kindFromString(s string) EntryKind {
	switch s {
	case "directory":
		return KindDirectory
	case "symlink":
		return KindSymlink
	default:
		return KindFile
	}
}

func encodeDirectory(dir Directory) []byte {
	entries := make([]directoryEntryJSON, 0, len(dir.Entries))
	for _, e := range dir.Entries {
		entries = append(entries, directoryEntryJSON{
			Name:       e.Name,
			Kind:       kindString(e.Kind),
			Digest:     e.Digest.String(),
			Executable: e.Executable,
			Target:     e.Target,
		})
	}
	b, _ := json.Marshal(entries)
	return b
}

func decodeDirectory(data []byte) (Directory, error) {
	var entries []directoryEntryJSON
	if err := json.Unmarshal(data, &entries); err != nil {
		return Directory{}, err
	}
	dir := Directory{Entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		entry := Entry{
			Name:       e.Name,
			Kind:       kindFromString(e.Kind),
			Executable: e.Executable,
			Target:     e.Target,
		}
		if e.Digest != "" {
			d, err := parseDigest(e.Digest)
			if err != nil {
				return Directory{}, err
			}
			entry.Digest = d
		}
		dir.Entries = append(dir.Entries, entry)
	}
	return dir, nil
}
