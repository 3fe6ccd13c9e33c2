package contract

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/rcliao/callsig/internal/binio"
	"github.com/rcliao/callsig/internal/model"
)

// ErrCorrupt is returned by Decode for input that is not a well-formed
// contract.
var ErrCorrupt = errors.New("corrupt contract encoding")

// Decode limits. A hostile packet must not make us allocate unbounded arenas.
const (
	maxArity = 1 << 10
	maxNodes = 1 << 22
)

// Encode writes c in the binary layout:
//
//	arity int32
//	arity x (name UTF, modifier byte)
//	nodeCount int32
//	nodeCount x (edgeCount int32, edgeCount x (target int32, isRef bool, link int32 | type UTF))
//
// Nodes are numbered breadth-first from the start node with transitions in
// sorted order, so a minimized contract always encodes to the same bytes.
func (c *Contract) Encode(w io.Writer) error {
	bw := binio.NewWriter(w)
	bw.Int32(len(c.params))
	for _, p := range c.params {
		bw.UTF(p.Name)
		bw.Byte(byte(p.Modifier))
	}

	order := c.bfs()
	pos := make([]int, len(c.nodes))
	for i, v := range order {
		pos[v] = i
	}
	bw.Int32(len(order))
	for _, v := range order {
		edges := c.nodes[v].edges
		bw.Int32(len(edges))
		for _, t := range sortedTransitions(edges) {
			bw.Int32(pos[edges[t]])
			bw.Bool(t.Kind == Reference)
			if t.Kind == Reference {
				bw.Int32(t.Link)
			} else {
				bw.UTF(t.Type)
			}
		}
	}
	if err := bw.Err(); err != nil {
		return fmt.Errorf("encode contract: %w", err)
	}
	return nil
}

// MarshalBinary returns the Encode output.
func (c *Contract) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Decode reads a contract written by Encode. Node levels are recovered from
// the breadth-first distance to the start node.
func Decode(r io.Reader) (*Contract, error) {
	br := binio.NewReader(r)
	arity := br.Int32()
	if err := br.Err(); err != nil {
		return nil, corrupt("arity: %v", err)
	}
	if arity < 0 || arity > maxArity {
		return nil, corrupt("arity %d out of range", arity)
	}
	params := make([]model.ParameterInfo, arity)
	for i := range params {
		params[i].Name = br.UTF()
		params[i].Modifier = model.Modifier(br.Byte())
		if br.Err() == nil && !params[i].Modifier.Valid() {
			return nil, corrupt("parameter %d: modifier %d", i, params[i].Modifier)
		}
	}
	count := br.Int32()
	if err := br.Err(); err != nil {
		return nil, corrupt("header: %v", err)
	}
	if count < 2 || count > maxNodes {
		return nil, corrupt("node count %d out of range", count)
	}

	last := arity + 1
	c := &Contract{params: params, nodes: make([]node, count), terminal: count - 1}
	reached := make([]bool, count)
	reached[0] = true
	for i := range c.nodes {
		c.nodes[i].edges = make(map[Transition]int)
	}
	for v := 0; v < count; v++ {
		if !reached[v] {
			return nil, corrupt("node %d unreachable", v)
		}
		level := c.nodes[v].level
		n := br.Int32()
		if err := br.Err(); err != nil {
			return nil, corrupt("node %d: %v", v, err)
		}
		if n < 0 || n > maxNodes {
			return nil, corrupt("node %d: edge count %d", v, n)
		}
		if (level == last) != (n == 0) {
			return nil, corrupt("node %d at level %d has %d edges", v, level, n)
		}
		for e := 0; e < n; e++ {
			to := br.Int32()
			var t Transition
			if br.Bool() {
				t = ReferenceTransition(br.Int32())
			} else {
				t = TypedTransition(br.UTF())
			}
			if err := br.Err(); err != nil {
				return nil, corrupt("node %d edge %d: %v", v, e, err)
			}
			if to <= v || to >= count {
				return nil, corrupt("node %d edge %d: target %d", v, e, to)
			}
			if t.Kind == Reference && (t.Link < 0 || t.Link >= level) {
				return nil, corrupt("node %d edge %d: reference to %d at position %d", v, e, t.Link, level)
			}
			if _, dup := c.nodes[v].edges[t]; dup {
				return nil, corrupt("node %d: duplicate transition %s", v, t)
			}
			if reached[to] {
				if c.nodes[to].level != level+1 {
					return nil, corrupt("node %d reached at levels %d and %d", to, c.nodes[to].level, level+1)
				}
			} else {
				reached[to] = true
				c.nodes[to].level = level + 1
			}
			if (to == c.terminal) != (level+1 == last) {
				return nil, corrupt("node %d edge %d: terminal mismatch", v, e)
			}
			c.link(v, t, to)
		}
	}
	return c, nil
}

// UnmarshalContract decodes b and rejects trailing bytes.
func UnmarshalContract(b []byte) (*Contract, error) {
	r := bytes.NewReader(b)
	c, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, corrupt("%d trailing bytes", r.Len())
	}
	return c, nil
}
