package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// ByteEncoding selects how file data is written on the wire.
type ByteEncoding int

const (
	// BytesIntArray writes data as a JSON array of integers 0-255. This is
	// what existing relays expect.
	BytesIntArray ByteEncoding = iota
	// BytesBase64 writes data as a standard base64 string.
	BytesBase64
)

// String returns the string representation of ByteEncoding
func (e ByteEncoding) String() string {
	switch e {
	case BytesIntArray:
		return "array"
	case BytesBase64:
		return "base64"
	default:
		return "unknown"
	}
}

// ParseByteEncoding parses the names returned by ByteEncoding.String.
func ParseByteEncoding(s string) (ByteEncoding, error) {
	switch s {
	case "array", "":
		return BytesIntArray, nil
	case "base64":
		return BytesBase64, nil
	default:
		return 0, fmt.Errorf("unknown byte encoding %q", s)
	}
}

// wireBytes carries file data through encoding/json. Decoding accepts either
// representation regardless of the codec setting.
type wireBytes struct {
	data []byte
	enc  ByteEncoding
}

func (b wireBytes) MarshalJSON() ([]byte, error) {
	if b.enc == BytesBase64 {
		return json.Marshal(base64.StdEncoding.EncodeToString(b.data))
	}
	buf := make([]byte, 0, 2+4*len(b.data))
	buf = append(buf, '[')
	for i, v := range b.data {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(v), 10)
	}
	return append(buf, ']'), nil
}

func (b *wireBytes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 data: %w", err)
		}
		b.data = decoded
		b.enc = BytesBase64
		return nil
	}

	var values []int
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return err
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d at index %d out of range", v, i)
		}
		out[i] = byte(v)
	}
	b.data = out
	b.enc = BytesIntArray
	return nil
}
