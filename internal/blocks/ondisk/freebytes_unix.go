//go:build unix

package ondisk

import (
	"context"
	"fmt"
	"syscall"
)

// EstimateNumFreeBytes reports free space on the filesystem backing basedir
// via statfs, the same syscall-driven approach the corpus's cross-platform
// packages (e.g. lima's per-GOOS helpers) use for host introspection.
func (s *Store) EstimateNumFreeBytes(_ context.Context) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.basedir, &stat); err != nil {
		return 0, fmt.Errorf("ondisk: statfs: %w", err)
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
