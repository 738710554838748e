package fsadapter

import "time"

// Attr is the stat-like metadata returned by GetAttr/Lookup, assembled from
// a directory entry (mode/uid/gid/times) and the target blob itself (size).
type Attr struct {
	Mode               uint32
	UID                uint32
	GID                uint32
	Size               uint64
	LastAccess         time.Time
	LastModification   time.Time
	LastMetadataChange time.Time
	IsDir              bool
	IsSymlink          bool
}

// AtimePolicy selects when reads update a blob's last-access time (§4.9).
type AtimePolicy string

const (
	AtimeNone                AtimePolicy = "noatime"
	AtimeStrict              AtimePolicy = "strictatime"
	AtimeRelative            AtimePolicy = "relatime"
	AtimeNoDirRelative       AtimePolicy = "nodiratime-relatime"
	AtimeNoDirStrict         AtimePolicy = "nodiratime-strictatime"
	relativeAtimeGraceWindow             = 24 * time.Hour
)

// ShouldUpdate reports whether an access to an entry of the given kind
// (isDir) at time now, whose current recorded timestamps are prevAtime/
// mtime/ctime, should bump its atime.
func (p AtimePolicy) ShouldUpdate(isDir bool, prevAtime, mtime, ctime, now time.Time) bool {
	switch p {
	case AtimeNone:
		return false
	case AtimeStrict:
		return true
	case AtimeNoDirStrict:
		return !isDir
	case AtimeNoDirRelative:
		if isDir {
			return false
		}
		return relativeShouldUpdate(prevAtime, mtime, ctime, now)
	case AtimeRelative, "":
		return relativeShouldUpdate(prevAtime, mtime, ctime, now)
	default:
		return relativeShouldUpdate(prevAtime, mtime, ctime, now)
	}
}

// relativeShouldUpdate implements relatime: update only if the access would
// otherwise make atime stale relative to mtime/ctime, or the recorded atime
// has not moved in over a day (§4.9).
func relativeShouldUpdate(prevAtime, mtime, ctime, now time.Time) bool {
	if prevAtime.Before(mtime) || prevAtime.Before(ctime) {
		return true
	}
	return now.Sub(prevAtime) > relativeAtimeGraceWindow
}
