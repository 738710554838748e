package cryconfig

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/cryfsgo/cryfs/internal/cryptoengine"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// Config is the decoded content of a filesystem's config blob: the ten
// cryConfig key=value lines of §6.2's inner plaintext (nine required, plus
// the optional exclusive client id).
type Config struct {
	BlockSizeBytes uint64
	RootBlob       domain.BlockID
	EncKey         []byte
	Cipher         cryptoengine.Name
	Version        string
	CreatedWithVersion     string
	LastOpenedWithVersion  string
	FormatVersion          string
	FilesystemID           domain.BlockID
	ExclusiveClientID      *domain.ClientID
}

const (
	keyBlockSizeBytes        = "cryfs.blocksizeBytes"
	keyRootBlob              = "cryfs.rootblob"
	keyEncKey                = "cryfs.enckey"
	keyCipher                = "cryfs.cipher"
	keyVersion               = "cryfs.version"
	keyCreatedWithVersion    = "cryfs.createdWithVersion"
	keyLastOpenedWithVersion = "cryfs.lastOpenedWithVersion"
	keyFormatVersion         = "cryfs.formatVersion"
	keyFilesystemID          = "cryfs.filesystemId"
	keyExclusiveClientID     = "cryfs.exclusiveClientId"
)

// requiredKeys are the cryConfig lines every config blob must carry;
// cryfs.exclusiveClientId is the one documented as optional (§6.2).
var requiredKeys = []string{
	keyBlockSizeBytes, keyRootBlob, keyEncKey, keyCipher,
	keyVersion, keyCreatedWithVersion, keyLastOpenedWithVersion,
	keyFormatVersion, keyFilesystemID,
}

// encode renders c as the inner-plaintext key=value lines (§6.2).
func (c Config) encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s=%d\n", keyBlockSizeBytes, c.BlockSizeBytes)
	fmt.Fprintf(&buf, "%s=%s\n", keyRootBlob, c.RootBlob)
	fmt.Fprintf(&buf, "%s=%s\n", keyEncKey, hex.EncodeToString(c.EncKey))
	fmt.Fprintf(&buf, "%s=%s\n", keyCipher, c.Cipher)
	fmt.Fprintf(&buf, "%s=%s\n", keyVersion, c.Version)
	fmt.Fprintf(&buf, "%s=%s\n", keyCreatedWithVersion, c.CreatedWithVersion)
	fmt.Fprintf(&buf, "%s=%s\n", keyLastOpenedWithVersion, c.LastOpenedWithVersion)
	fmt.Fprintf(&buf, "%s=%s\n", keyFormatVersion, c.FormatVersion)
	fmt.Fprintf(&buf, "%s=%s\n", keyFilesystemID, c.FilesystemID)
	if c.ExclusiveClientID != nil {
		fmt.Fprintf(&buf, "%s=%d\n", keyExclusiveClientID, uint32(*c.ExclusiveClientID))
	}
	return buf.Bytes()
}

// parseConfig parses the inner-plaintext key=value lines back into a Config.
// Unknown keys are ignored rather than rejected, so a newer writer's config
// can still be read by fields this module knows about.
func parseConfig(raw []byte) (Config, error) {
	var c Config
	seen := make(map[string]bool, len(requiredKeys))

	for _, line := range bytes.Split(raw, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		parts := bytes.SplitN(line, []byte("="), 2)
		if len(parts) != 2 {
			return Config{}, fmt.Errorf("%w: malformed config line %q", domain.ErrCorruptedFilesystem, line)
		}
		key, value := string(parts[0]), string(parts[1])
		seen[key] = true

		switch key {
		case keyBlockSizeBytes:
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s: %v", domain.ErrCorruptedFilesystem, key, err)
			}
			c.BlockSizeBytes = v
		case keyRootBlob:
			id, err := domain.ParseBlockID(value)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s: %v", domain.ErrCorruptedFilesystem, key, err)
			}
			c.RootBlob = id
		case keyEncKey:
			b, err := hex.DecodeString(value)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s: %v", domain.ErrCorruptedFilesystem, key, err)
			}
			c.EncKey = b
		case keyCipher:
			c.Cipher = cryptoengine.Name(value)
		case keyVersion:
			c.Version = value
		case keyCreatedWithVersion:
			c.CreatedWithVersion = value
		case keyLastOpenedWithVersion:
			c.LastOpenedWithVersion = value
		case keyFormatVersion:
			c.FormatVersion = value
		case keyFilesystemID:
			id, err := domain.ParseBlockID(value)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s: %v", domain.ErrCorruptedFilesystem, key, err)
			}
			c.FilesystemID = id
		case keyExclusiveClientID:
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s: %v", domain.ErrCorruptedFilesystem, key, err)
			}
			cid := domain.ClientID(v)
			c.ExclusiveClientID = &cid
		}
	}

	for _, k := range requiredKeys {
		if !seen[k] {
			return Config{}, fmt.Errorf("%w: config missing required key %q", domain.ErrCorruptedFilesystem, k)
		}
	}
	return c, nil
}
