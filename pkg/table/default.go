package table

import "github.com/appnet-org/sdnsim/pkg/topology"

// Wire ids of the default eight router, four end user network.
const (
	r1 uint8 = iota + 1
	r2
	r3
	r4
	r5
	r6
	r7
	r8
	e1
	e2
	e3
	e4
)

// DefaultRows is the preconfigured all-pairs mesh: src, dst, router, prev, next.
var DefaultRows = [][RowSize]uint8{
	{e1, e2, r1, e1, r3}, {e1, e2, r3, r1, r6}, {e1, e2, r6, r3, r8}, {e1, e2, r8, r6, e2},
	{e2, e1, r8, e2, r7}, {e2, e1, r7, r8, r5}, {e2, e1, r5, r7, r2}, {e2, e1, r2, r5, r1},
	{e2, e1, r1, r2, e1},
	{e1, e3, r1, e1, r4}, {e1, e3, r4, r1, r6}, {e1, e3, r6, r4, e3},
	{e3, e1, r6, e3, r4}, {e3, e1, r4, r6, r1}, {e3, e1, r1, r4, e1},
	{e1, e4, r1, e1, r4}, {e1, e4, r4, r1, r7}, {e1, e4, r7, r4, e4},
	{e4, e1, r7, e4, r4}, {e4, e1, r4, r7, r1}, {e4, e1, r1, r4, e1},
	{e2, e3, r8, e2, r6}, {e2, e3, r6, r8, e3},
	{e3, e2, r6, e3, r8}, {e3, e2, r8, r6, e2},
	{e2, e4, r8, e2, r7}, {e2, e4, r7, r8, e4},
	{e4, e2, r7, e4, r8}, {e4, e2, r8, r7, e2},
	{e3, e4, r6, e3, r4}, {e3, e4, r4, r6, r7}, {e3, e4, r7, r4, e4},
	{e4, e3, r7, e4, r4}, {e4, e3, r4, r7, r6}, {e4, e3, r6, r4, e3},
}

// Default returns the preconfigured table for topology.Default.
func Default() Table {
	t, err := FromRaw(topology.Default(), DefaultRows)
	if err != nil {
		panic(err)
	}
	return t
}
