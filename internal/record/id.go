package record

import (
	"fmt"
	"time"
)

// IDLength is the fixed length of a record id.
const IDLength = 8

// MaxMillis is the exclusive upper bound of the 48-bit id payload.
const MaxMillis int64 = 1 << 48

// idAlphabet is ordered so that byte order of encoded ids matches numeric
// order of the payload. It is not RFC 4648 base64url.
const idAlphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

var idDecode [256]int8

func init() {
	for i := range idDecode {
		idDecode[i] = -1
	}
	for i := 0; i < len(idAlphabet); i++ {
		idDecode[idAlphabet[i]] = int8(i)
	}
}

// EncodeID encodes a POSIX millisecond timestamp as an 8-char id.
func EncodeID(millis int64) (string, error) {
	if millis < 0 || millis >= MaxMillis {
		return "", fmt.Errorf("millis out of range for 48-bit id: %d", millis)
	}
	var buf [IDLength]byte
	for i, shift := 0, 42; shift >= 0; i, shift = i+1, shift-6 {
		buf[i] = idAlphabet[(millis>>uint(shift))&0x3F]
	}
	return string(buf[:]), nil
}

// DecodeID returns the millisecond payload of id.
func DecodeID(id string) (int64, error) {
	if len(id) != IDLength {
		return 0, fmt.Errorf("id must be %d characters: %q", IDLength, id)
	}
	var v int64
	for i := 0; i < len(id); i++ {
		d := idDecode[id[i]]
		if d < 0 {
			return 0, fmt.Errorf("invalid id character %q in %q", id[i], id)
		}
		v = v<<6 | int64(d)
	}
	return v, nil
}

// IsValidID reports whether id is a well-formed record id.
func IsValidID(id string) bool {
	_, err := DecodeID(id)
	return err == nil
}

// IDFromTime returns the id for t's millisecond timestamp.
func IDFromTime(t time.Time) (string, error) {
	return EncodeID(t.UnixMilli())
}

// TimeFromID returns the UTC creation time encoded in id.
func TimeFromID(id string) (time.Time, error) {
	ms, err := DecodeID(id)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
