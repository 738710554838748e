package integrity

import (
	"encoding/binary"
	"fmt"

	"github.com/cryfsgo/cryfs/internal/domain"
)

// FormatVersion is written as the first 2 bytes of every integrity header.
const FormatVersion uint16 = 1

// headerLen is the size in bytes of [format_version:2][block_id:16][client_id:4][block_version:8].
const headerLen = 2 + domain.BlockIDLen + 4 + 8

// header is the integrity metadata carried inside a C2 block's decrypted
// payload, binding the block to the id it was requested under and to a
// monotonically increasing per-client version number (§3 "Integrity Header").
type header struct {
	blockID      domain.BlockID
	clientID     domain.ClientID
	blockVersion uint64
}

// encode prepends the header to payload, returning a new buffer.
func (h header) encode(payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], FormatVersion)
	copy(buf[2:2+domain.BlockIDLen], h.blockID[:])
	off := 2 + domain.BlockIDLen
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(h.clientID))
	binary.BigEndian.PutUint64(buf[off+4:off+12], h.blockVersion)
	copy(buf[headerLen:], payload)
	return buf
}

// parseHeader splits raw into its header and payload, validating its length
// and format version but not yet any cross-block invariant.
func parseHeader(raw []byte) (header, []byte, error) {
	if len(raw) < headerLen {
		return header{}, nil, fmt.Errorf("%w: integrity header truncated (%d bytes)", domain.ErrCorruptedBlock, len(raw))
	}
	version := binary.BigEndian.Uint16(raw[0:2])
	if version != FormatVersion {
		return header{}, nil, fmt.Errorf("%w: unsupported integrity header version %d", domain.ErrCorruptedBlock, version)
	}
	var h header
	copy(h.blockID[:], raw[2:2+domain.BlockIDLen])
	off := 2 + domain.BlockIDLen
	h.clientID = domain.ClientID(binary.BigEndian.Uint32(raw[off : off+4]))
	h.blockVersion = binary.BigEndian.Uint64(raw[off+4 : off+12])
	return h, raw[headerLen:], nil
}
