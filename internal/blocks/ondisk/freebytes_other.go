//go:build !unix

package ondisk

import "context"

// EstimateNumFreeBytes has no portable syscall on this platform; report a
// conservative zero rather than guessing.
func (s *Store) EstimateNumFreeBytes(_ context.Context) (uint64, error) {
	return 0, nil
}
