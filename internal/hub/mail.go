package hub

import (
	"crypto/sha256"
	"encoding/hex"
)

// Mail is the immutable carrier of one harvested message: the name of the
// source it came from, the verbatim RFC 822 bytes, and a stable fingerprint
// of those bytes. The fingerprint is only used for log lines and for naming
// retry files on disk.
type Mail struct {
	FromSrc string
	Data    []byte
	Hash    string
}

// NewMailFromRFC822 builds a Mail from the raw message bytes as fetched from
// the source. The data is never modified afterwards, so fanning a Mail out to
// multiple destinations just copies the struct.
func NewMailFromRFC822(fromSrc string, data []byte) Mail {
	sum := sha256.Sum256(data)
	return Mail{
		FromSrc: fromSrc,
		Data:    data,
		Hash:    hex.EncodeToString(sum[:]),
	}
}
