package contract

import (
	"sort"
	"strings"
)

// Lines renders every accepted argument tuple with the return types observed
// for it, e.g. "(String, Integer) -> Array | NilClass". References are
// resolved to the concrete types of the tuple. At most limit lines are
// produced when limit > 0.
func (c *Contract) Lines(limit int) []string {
	var out []string
	args := make([]string, 0, len(c.params))
	var walk func(v int) bool
	walk = func(v int) bool {
		if c.nodes[v].level == len(c.params) {
			out = append(out, "("+strings.Join(args, ", ")+") -> "+strings.Join(c.returns(v, args), " | "))
			return limit <= 0 || len(out) < limit
		}
		for _, t := range sortedTransitions(c.nodes[v].edges) {
			args = append(args, resolve(t, args))
			ok := walk(c.nodes[v].edges[t])
			args = args[:len(args)-1]
			if !ok {
				return false
			}
		}
		return true
	}
	walk(0)
	return out
}

func resolve(t Transition, args []string) string {
	if t.Kind == Reference && t.Link < len(args) {
		return args[t.Link]
	}
	return t.Type
}

func (c *Contract) returns(v int, args []string) []string {
	seen := make(map[string]bool)
	var out []string
	for t := range c.nodes[v].edges {
		name := resolve(t, args)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
