package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"io"
)

// MD5Hex returns the lowercase hex MD5 of data, the content hash stored
// on every record.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// MD5HexReader hashes r without buffering it in memory, for an importer
// fingerprinting large video files.
func MD5HexReader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
