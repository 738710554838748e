package fsblobstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/cryfsgo/cryfs/internal/domain"
)

// EntryType is the type of a directory entry's target blob.
type EntryType uint8

const (
	EntryTypeFile EntryType = iota
	EntryTypeDir
	EntryTypeSymlink
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeFile:
		return "file"
	case EntryTypeDir:
		return "dir"
	case EntryTypeSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("entrytype(%d)", uint8(t))
	}
}

// dirEntryFixedLen is len([entry_type:1][mode:4][uid:4][gid:4]
// [last_access:8][last_modification:8][last_metadata_change:8]), everything
// before the variable-length name and trailing [blob_id:16].
const dirEntryFixedLen = 1 + 4 + 4 + 4 + 8 + 8 + 8

// DirEntry is one entry of a directory blob's body (§4.7).
type DirEntry struct {
	Type               EntryType
	Mode               uint32
	UID                uint32
	GID                uint32
	LastAccess         time.Time
	LastModification   time.Time
	LastMetadataChange time.Time
	Name               string
	BlobID             domain.BlobID
}

// timeToUnixNano encodes t as nanoseconds since the Unix epoch, treating
// the zero Time as 0 rather than calling the undefined-on-overflow
// time.Time.UnixNano on a year-1 date.
func timeToUnixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func encodeDirEntries(entries []DirEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		var fixed [dirEntryFixedLen]byte
		fixed[0] = byte(e.Type)
		binary.BigEndian.PutUint32(fixed[1:5], e.Mode)
		binary.BigEndian.PutUint32(fixed[5:9], e.UID)
		binary.BigEndian.PutUint32(fixed[9:13], e.GID)
		binary.BigEndian.PutUint64(fixed[13:21], timeToUnixNano(e.LastAccess))
		binary.BigEndian.PutUint64(fixed[21:29], timeToUnixNano(e.LastModification))
		binary.BigEndian.PutUint64(fixed[29:37], timeToUnixNano(e.LastMetadataChange))
		buf.Write(fixed[:])
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		blockID := e.BlobID.ToBlockID()
		buf.Write(blockID[:])
	}
	return buf.Bytes()
}

func decodeDirEntries(body []byte) ([]DirEntry, error) {
	var entries []DirEntry
	for len(body) > 0 {
		if len(body) < dirEntryFixedLen {
			return nil, fmt.Errorf("%w: truncated dir entry", domain.ErrCorruptedFilesystem)
		}
		var e DirEntry
		e.Type = EntryType(body[0])
		switch e.Type {
		case EntryTypeFile, EntryTypeDir, EntryTypeSymlink:
		default:
			return nil, fmt.Errorf("%w: unknown dir entry type %d", domain.ErrCorruptedFilesystem, e.Type)
		}
		e.Mode = binary.BigEndian.Uint32(body[1:5])
		e.UID = binary.BigEndian.Uint32(body[5:9])
		e.GID = binary.BigEndian.Uint32(body[9:13])
		e.LastAccess = time.Unix(0, int64(binary.BigEndian.Uint64(body[13:21]))).UTC()
		e.LastModification = time.Unix(0, int64(binary.BigEndian.Uint64(body[21:29]))).UTC()
		e.LastMetadataChange = time.Unix(0, int64(binary.BigEndian.Uint64(body[29:37]))).UTC()
		body = body[dirEntryFixedLen:]

		nameEnd := bytes.IndexByte(body, 0)
		if nameEnd < 0 {
			return nil, fmt.Errorf("%w: unterminated dir entry name", domain.ErrCorruptedFilesystem)
		}
		e.Name = string(body[:nameEnd])
		body = body[nameEnd+1:]

		if len(body) < domain.BlockIDLen {
			return nil, fmt.Errorf("%w: truncated dir entry blob id", domain.ErrCorruptedFilesystem)
		}
		var blockID domain.BlockID
		copy(blockID[:], body[:domain.BlockIDLen])
		e.BlobID = domain.BlobID(blockID)
		body = body[domain.BlockIDLen:]

		entries = append(entries, e)
	}
	return entries, nil
}

// indexOf returns the position of name in a sorted entry list, and whether
// it was found (for O(log n) lookup by binary search, §4.7).
func indexOf(entries []DirEntry, name string) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Name >= name })
	if i < len(entries) && entries[i].Name == name {
		return i, true
	}
	return i, false
}

// Lookup finds the entry named name within d, if any.
func (d DirBlob) Lookup(name string) (DirEntry, bool) {
	i, found := indexOf(d.entries, name)
	if !found {
		return DirEntry{}, false
	}
	return d.entries[i], true
}

// withInserted returns d's entries with entry inserted (or replacing an
// existing entry of the same name), kept sorted by name.
func (d DirBlob) withInserted(entry DirEntry) []DirEntry {
	i, found := indexOf(d.entries, entry.Name)
	out := make([]DirEntry, len(d.entries), len(d.entries)+1)
	copy(out, d.entries)
	if found {
		out[i] = entry
		return out
	}
	out = append(out, DirEntry{})
	copy(out[i+1:], out[i:len(out)-1])
	out[i] = entry
	return out
}

// withRemoved returns d's entries with the entry named name removed.
func (d DirBlob) withRemoved(name string) ([]DirEntry, bool) {
	i, found := indexOf(d.entries, name)
	if !found {
		return d.entries, false
	}
	out := make([]DirEntry, 0, len(d.entries)-1)
	out = append(out, d.entries[:i]...)
	out = append(out, d.entries[i+1:]...)
	return out, true
}
