package table

import (
	"fmt"

	"github.com/appnet-org/sdnsim/pkg/topology"
)

// EncodedLen returns the number of bytes Encode produces for rows rules.
func EncodedLen(rows int) int {
	return 1 + rows*RowSize
}

// Encode writes a partition as a row count followed by the concatenated 5-byte rows.
func Encode(t Table) ([]byte, error) {
	if len(t) > MaxRows {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyRows, len(t), MaxRows)
	}
	buf := make([]byte, EncodedLen(len(t)))
	buf[0] = byte(len(t))
	for i, r := range t {
		raw := r.Raw()
		copy(buf[1+i*RowSize:], raw[:])
	}
	return buf, nil
}

// Decode parses data produced by Encode. Bytes after the last row are ignored so the
// input may be a zero-padded datagram payload.
func Decode(topo topology.Topology, data []byte) (Table, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: missing row count", ErrTruncated)
	}
	n := int(data[0])
	if len(data) < EncodedLen(n) {
		return nil, fmt.Errorf("%w: %d rows need %d bytes, have %d", ErrTruncated, n, EncodedLen(n), len(data))
	}
	var t Table
	if n > 0 {
		t = make(Table, 0, n)
	}
	for i := 0; i < n; i++ {
		var raw [RowSize]uint8
		copy(raw[:], data[1+i*RowSize:])
		r, err := RuleFromRaw(topo, raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		t = append(t, r)
	}
	return t, nil
}
