package cryconfig

// ChangePassword re-encrypts a config blob under a new password, leaving its
// decoded content (including the filesystem's own encryption key and
// cipher choice) untouched. It is a pure function: decode, then re-encode
// with fresh scrypt salt and a new random nonce at both envelope layers, so
// a partially-written rotation never corrupts the original blob in place.
func ChangePassword(blob []byte, oldPassword, newPassword []byte) ([]byte, error) {
	cfg, err := Decode(blob, oldPassword)
	if err != nil {
		return nil, err
	}
	return Encode(cfg, newPassword)
}
