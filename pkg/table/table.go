// Package table holds the static forwarding rules and their wire encoding.
package table

import (
	"errors"
	"fmt"

	"github.com/appnet-org/sdnsim/pkg/topology"
)

// RowSize is the encoded size of one rule: src, dst, router, prev, next.
const RowSize = 5

// MaxRows is the largest partition the one-byte row count can describe.
const MaxRows = 255

var (
	ErrTooManyRows = errors.New("partition has too many rows")
	ErrTruncated   = errors.New("partition data truncated")
	ErrInvalidRule = errors.New("invalid rule")
)

// Rule says: a message from Src to Dst arriving at Router from Prev leaves towards Next.
type Rule struct {
	Src    topology.NodeID
	Dst    topology.NodeID
	Router topology.NodeID
	Prev   topology.NodeID
	Next   topology.NodeID
}

func (r Rule) String() string {
	return fmt.Sprintf("%s->%s@%s(%s=>%s)", r.Src, r.Dst, r.Router, r.Prev, r.Next)
}

// Raw returns the wire bytes of r.
func (r Rule) Raw() [RowSize]uint8 {
	return [RowSize]uint8{r.Src.ID, r.Dst.ID, r.Router.ID, r.Prev.ID, r.Next.ID}
}

// Validate checks the kind of every field.
func (r Rule) Validate() error {
	switch {
	case !r.Src.IsEndUser():
		return fmt.Errorf("%w %s: source %s is not an end user", ErrInvalidRule, r, r.Src)
	case !r.Dst.IsEndUser():
		return fmt.Errorf("%w %s: destination %s is not an end user", ErrInvalidRule, r, r.Dst)
	case !r.Router.IsRouter():
		return fmt.Errorf("%w %s: %s is not a router", ErrInvalidRule, r, r.Router)
	case !isHop(r.Prev):
		return fmt.Errorf("%w %s: previous hop %s", ErrInvalidRule, r, r.Prev)
	case !isHop(r.Next):
		return fmt.Errorf("%w %s: next hop %s", ErrInvalidRule, r, r.Next)
	}
	return nil
}

func isHop(n topology.NodeID) bool {
	return n.IsRouter() || n.IsEndUser()
}

// RuleFromRaw classifies a wire row.
func RuleFromRaw(topo topology.Topology, raw [RowSize]uint8) (Rule, error) {
	var ids [RowSize]topology.NodeID
	for i, b := range raw {
		n, err := topo.Node(b)
		if err != nil {
			return Rule{}, fmt.Errorf("%w %v: %w", ErrInvalidRule, raw, err)
		}
		ids[i] = n
	}
	r := Rule{Src: ids[0], Dst: ids[1], Router: ids[2], Prev: ids[3], Next: ids[4]}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Table is an ordered list of rules. Order matters: lookups are first-match.
type Table []Rule

// FromRaw builds a table out of wire rows, for example ones read from a config file.
func FromRaw(topo topology.Topology, rows [][RowSize]uint8) (Table, error) {
	t := make(Table, 0, len(rows))
	for _, raw := range rows {
		r, err := RuleFromRaw(topo, raw)
		if err != nil {
			return nil, err
		}
		t = append(t, r)
	}
	return t, nil
}

// Partition returns the rules installed on router, in table order.
func (t Table) Partition(router topology.NodeID) Table {
	var p Table
	for _, r := range t {
		if r.Router == router {
			p = append(p, r)
		}
	}
	return p
}

// Lookup returns the first rule matching the source, destination and previous hop.
func (t Table) Lookup(src, dst, prev topology.NodeID) (Rule, bool) {
	for _, r := range t {
		if r.Src == src && r.Dst == dst && r.Prev == prev {
			return r, true
		}
	}
	return Rule{}, false
}

// AttachedEndUser returns the end user directly connected to the router owning t: the
// first rule, in order, whose previous or next hop is an end user.
func (t Table) AttachedEndUser() (topology.NodeID, bool) {
	for _, r := range t {
		if r.Prev.IsEndUser() {
			return r.Prev, true
		}
		if r.Next.IsEndUser() {
			return r.Next, true
		}
	}
	return topology.NodeID{}, false
}

// Destinations returns the distinct destinations reachable through t, in first-seen order.
func (t Table) Destinations() []topology.NodeID {
	seen := make(map[topology.NodeID]bool)
	var out []topology.NodeID
	for _, r := range t {
		if !seen[r.Dst] {
			seen[r.Dst] = true
			out = append(out, r.Dst)
		}
	}
	return out
}

// Validate checks every rule.
func (t Table) Validate() error {
	for _, r := range t {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}
