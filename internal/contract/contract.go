// Package contract implements the signature contract: a leveled deterministic
// automaton accepting the (argument types..., return type) sequences observed
// for one method.
//
// A contract for a method with n parameters has n+2 levels. Level 0 holds the
// single start node, level i (1..n) the nodes reached after reading i argument
// types, and level n+1 the single terminal node reached after reading the
// return type. Nodes live in an arena slice and are addressed by index.
package contract

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rcliao/callsig/internal/model"
)

// ErrArityMismatch is returned when a record or contract has a parameter
// shape different from the contract it is applied to.
var ErrArityMismatch = errors.New("parameter shape mismatch")

// Kind tags a Transition.
type Kind uint8

const (
	// Typed transitions carry a concrete type name.
	Typed Kind = iota
	// Reference transitions mean "same type as the argument at Link".
	Reference
)

// Transition labels an edge. It is comparable and used as a map key.
type Transition struct {
	Kind Kind
	Type string
	Link int
}

// TypedTransition returns a transition labeled with a concrete type.
func TypedTransition(name string) Transition {
	return Transition{Kind: Typed, Type: name}
}

// ReferenceTransition returns a transition pointing back at argument link.
func ReferenceTransition(link int) Transition {
	return Transition{Kind: Reference, Link: link}
}

func (t Transition) String() string {
	if t.Kind == Reference {
		return fmt.Sprintf("$%d", t.Link)
	}
	return t.Type
}

func (t Transition) less(o Transition) bool {
	if t.Kind != o.Kind {
		return t.Kind < o.Kind
	}
	if t.Type != o.Type {
		return t.Type < o.Type
	}
	return t.Link < o.Link
}

// labelAt computes the label of position i in seq, where seq is the argument
// types followed by the return type. A type that already occurred at an
// earlier argument position becomes a reference to its first occurrence.
func labelAt(seq []string, i int) Transition {
	t := seq[i]
	if t != model.ImplicitArgType {
		for j := 0; j < i; j++ {
			if seq[j] == t {
				return ReferenceTransition(j)
			}
		}
	}
	return TypedTransition(t)
}

func sequence(r model.Record) []string {
	seq := make([]string, 0, len(r.ArgTypes)+1)
	seq = append(seq, r.ArgTypes...)
	return append(seq, r.ReturnType)
}

type node struct {
	level int
	in    int
	edges map[Transition]int
}

// Contract is the learned automaton for one method. It is not safe for
// concurrent use; callers serialize access (see registry.Registry).
type Contract struct {
	params   []model.ParameterInfo
	nodes    []node
	terminal int
}

func empty(params []model.ParameterInfo) *Contract {
	c := &Contract{params: append([]model.ParameterInfo(nil), params...)}
	c.newNode(0)
	c.terminal = c.newNode(len(params) + 1)
	return c
}

// New builds a single-path contract accepting exactly rec.
func New(rec model.Record) *Contract {
	c := empty(rec.Params)
	c.addPath(sequence(rec))
	return c
}

// Params returns the parameter shape the contract was built for.
func (c *Contract) Params() []model.ParameterInfo {
	return append([]model.ParameterInfo(nil), c.params...)
}

// Arity is the number of argument levels.
func (c *Contract) Arity() int {
	return len(c.params)
}

// NodeCount returns the number of nodes, start and terminal included.
func (c *Contract) NodeCount() int {
	return len(c.nodes)
}

// EdgeCount returns the number of transitions.
func (c *Contract) EdgeCount() int {
	n := 0
	for _, v := range c.nodes {
		n += len(v.edges)
	}
	return n
}

func (c *Contract) newNode(level int) int {
	c.nodes = append(c.nodes, node{level: level, edges: make(map[Transition]int)})
	return len(c.nodes) - 1
}

func (c *Contract) link(from int, t Transition, to int) {
	if old, ok := c.nodes[from].edges[t]; ok {
		c.nodes[old].in--
	}
	c.nodes[from].edges[t] = to
	c.nodes[to].in++
}

// cloneNode copies v with its outgoing edges; the copy has no incoming edges.
func (c *Contract) cloneNode(v int) int {
	u := c.newNode(c.nodes[v].level)
	for t, to := range c.nodes[v].edges {
		c.link(u, t, to)
	}
	return u
}

func (c *Contract) addPath(seq []string) {
	cur := 0
	last := len(seq) - 1
	for i := 0; i < last; i++ {
		t := labelAt(seq, i)
		next, ok := c.nodes[cur].edges[t]
		if !ok {
			next = c.newNode(i + 1)
			c.link(cur, t, next)
		} else if c.nodes[next].in > 1 {
			// next is shared with other prefixes after minimization; extend a
			// private copy so their language is unchanged.
			next = c.cloneNode(next)
			c.link(cur, t, next)
		}
		cur = next
	}
	c.link(cur, labelAt(seq, last), c.terminal)
}

func (c *Contract) sameShape(params []model.ParameterInfo) bool {
	return model.SameParams(c.params, params)
}

// Accept reports whether the sequence observed in rec is accepted.
func (c *Contract) Accept(rec model.Record) bool {
	if !c.sameShape(rec.Params) || len(rec.ArgTypes) != len(rec.Params) {
		return false
	}
	seq := sequence(rec)
	cur := 0
	for i := range seq {
		next, ok := c.nodes[cur].edges[labelAt(seq, i)]
		if !ok {
			return false
		}
		cur = next
	}
	return cur == c.terminal
}

// AddRecord extends the contract so that it also accepts rec. The parameter
// shape must match; arity changes are never merged in place.
func (c *Contract) AddRecord(rec model.Record) error {
	if !c.sameShape(rec.Params) || len(rec.ArgTypes) != len(rec.Params) {
		return fmt.Errorf("add record with %d params to contract with %d: %w",
			len(rec.Params), len(c.params), ErrArityMismatch)
	}
	c.addPath(sequence(rec))
	return nil
}

func sortedTransitions(edges map[Transition]int) []Transition {
	ts := make([]Transition, 0, len(edges))
	for t := range edges {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].less(ts[j]) })
	return ts
}

// bfs returns node indices in breadth-first order from the start node,
// following transitions in sorted order.
func (c *Contract) bfs() []int {
	order := []int{0}
	seen := make([]bool, len(c.nodes))
	seen[0] = true
	for i := 0; i < len(order); i++ {
		v := order[i]
		for _, t := range sortedTransitions(c.nodes[v].edges) {
			u := c.nodes[v].edges[t]
			if !seen[u] {
				seen[u] = true
				order = append(order, u)
			}
		}
	}
	return order
}

// Minimize merges nodes whose outgoing transitions lead to the same
// (already merged) successors, working backward from the terminal level.
// The accepted language is unchanged.
func (c *Contract) Minimize() {
	reachable := c.bfs()
	levels := make([][]int, len(c.params)+2)
	for _, v := range reachable {
		lv := c.nodes[v].level
		levels[lv] = append(levels[lv], v)
	}

	rep := make([]int, len(c.nodes))
	for lv := len(levels) - 1; lv >= 0; lv-- {
		seen := make(map[string]int, len(levels[lv]))
		for _, v := range levels[lv] {
			key := c.signature(v, rep)
			if r, ok := seen[key]; ok {
				rep[v] = r
				continue
			}
			seen[key] = v
			rep[v] = v
		}
	}
	c.rebuild(rep)
}

func (c *Contract) signature(v int, rep []int) string {
	var b []byte
	for _, t := range sortedTransitions(c.nodes[v].edges) {
		b = fmt.Appendf(b, "%d\x00%s\x00%d\x00%d\x01", t.Kind, t.Type, t.Link, rep[c.nodes[v].edges[t]])
	}
	return string(b)
}

// rebuild compacts the arena keeping only representatives, numbered in
// breadth-first order.
func (c *Contract) rebuild(rep []int) {
	out := &Contract{params: c.params}
	index := map[int]int{rep[0]: out.newNode(0)}
	queue := []int{rep[0]}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		from := index[v]
		for _, t := range sortedTransitions(c.nodes[v].edges) {
			u := rep[c.nodes[v].edges[t]]
			to, ok := index[u]
			if !ok {
				to = out.newNode(c.nodes[u].level)
				index[u] = to
				queue = append(queue, u)
			}
			out.link(from, t, to)
		}
	}
	out.terminal = index[rep[c.terminal]]
	*c = *out
}

// MergeWith unions other into c: afterwards c accepts every sequence accepted
// by either. Both must share the parameter shape. The result is minimized.
func (c *Contract) MergeWith(other *Contract) error {
	if !c.sameShape(other.params) {
		return fmt.Errorf("merge contract with %d params into %d: %w",
			len(other.params), len(c.params), ErrArityMismatch)
	}

	type pair struct{ a, b int }
	out := empty(c.params)
	last := len(c.params) + 1
	index := map[pair]int{{0, 0}: 0}
	queue := []pair{{0, 0}}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		from := index[p]
		level := out.nodes[from].level

		labels := make(map[Transition]struct{})
		if p.a >= 0 {
			for t := range c.nodes[p.a].edges {
				labels[t] = struct{}{}
			}
		}
		if p.b >= 0 {
			for t := range other.nodes[p.b].edges {
				labels[t] = struct{}{}
			}
		}
		for t := range labels {
			if level+1 == last {
				out.link(from, t, out.terminal)
				continue
			}
			next := pair{-1, -1}
			if p.a >= 0 {
				if u, ok := c.nodes[p.a].edges[t]; ok {
					next.a = u
				}
			}
			if p.b >= 0 {
				if u, ok := other.nodes[p.b].edges[t]; ok {
					next.b = u
				}
			}
			to, ok := index[next]
			if !ok {
				to = out.newNode(level + 1)
				index[next] = to
				queue = append(queue, next)
			}
			out.link(from, t, to)
		}
	}
	out.Minimize()
	*c = *out
	return nil
}

// Clone returns a deep copy.
func (c *Contract) Clone() *Contract {
	out := &Contract{
		params:   append([]model.ParameterInfo(nil), c.params...),
		nodes:    make([]node, len(c.nodes)),
		terminal: c.terminal,
	}
	for i, v := range c.nodes {
		edges := make(map[Transition]int, len(v.edges))
		for t, u := range v.edges {
			edges[t] = u
		}
		out.nodes[i] = node{level: v.level, in: v.in, edges: edges}
	}
	return out
}

// Equal reports whether a and b accept the same sequences over the same
// parameter shape.
func Equal(a, b *Contract) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !a.sameShape(b.params) {
		return false
	}
	ma, mb := a.Clone(), b.Clone()
	ma.Minimize()
	mb.Minimize()
	if len(ma.nodes) != len(mb.nodes) {
		return false
	}
	// Minimized contracts are numbered breadth-first over sorted labels, so
	// equal languages give identical arenas.
	for i := range ma.nodes {
		ea, eb := ma.nodes[i].edges, mb.nodes[i].edges
		if len(ea) != len(eb) {
			return false
		}
		for t, u := range ea {
			if w, ok := eb[t]; !ok || w != u {
				return false
			}
		}
	}
	return true
}

// ReturnTypes predicts the return types for the given argument types. It
// returns nil when the arguments were never observed together.
func (c *Contract) ReturnTypes(argTypes []string) []string {
	if len(argTypes) != len(c.params) {
		return nil
	}
	seq := append(append([]string(nil), argTypes...), "")
	cur := 0
	for i := range argTypes {
		next, ok := c.nodes[cur].edges[labelAt(seq, i)]
		if !ok {
			return nil
		}
		cur = next
	}
	return c.returns(cur, argTypes)
}
