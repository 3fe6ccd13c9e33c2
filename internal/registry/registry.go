// Package registry holds the per-method contracts learned in memory.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/rcliao/callsig/internal/contract"
	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/packet"
)

type entry struct {
	method   model.MethodInfo
	contract *contract.Contract
	count    int
}

// Registry maps methods to contracts. All access goes through one mutex;
// contracts never leave the registry without being cloned.
type Registry struct {
	mu      sync.Mutex
	entries map[model.MethodKey]*entry
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{entries: make(map[model.MethodKey]*entry), logger: logger}
}

// Accept reports whether the method of rec is known and its contract
// accepts rec. A hit counts as an observation.
func (r *Registry) Accept(rec model.Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[rec.Method.Key()]
	if !ok || !e.contract.Accept(rec) {
		return false
	}
	e.count++
	return true
}

// AddRecord learns rec. A record whose parameter shape differs from the
// existing contract is dropped and false is returned.
func (r *Registry) AddRecord(rec model.Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rec.Method.Key()
	e, ok := r.entries[key]
	if !ok {
		r.entries[key] = &entry{method: rec.Method, contract: contract.New(rec), count: 1}
		return true
	}
	if err := e.contract.AddRecord(rec); err != nil {
		r.logger.Debug("drop record", "method", rec.Method.String(), "arity", rec.Arity(),
			"known_arity", e.contract.Arity(), "error", err)
		return false
	}
	e.count++
	return true
}

// Reduce minimizes every contract, most observed methods first.
func (r *Registry) Reduce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byCount() {
		e.contract.Minimize()
	}
}

func (r *Registry) byCount() []*entry {
	list := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].method.String() < list[j].method.String()
	})
	return list
}

func (r *Registry) snapshot() []packet.Entry {
	out := make([]packet.Entry, 0, len(r.entries))
	for _, e := range r.byCount() {
		c := e.contract.Clone()
		c.Minimize()
		out = append(out, packet.Entry{Method: e.method, Contract: c})
	}
	return out
}

// Snapshot returns minimized copies of all contracts.
func (r *Registry) Snapshot() []packet.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Drain returns a snapshot and empties the registry in one step.
func (r *Registry) Drain() []packet.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.snapshot()
	r.entries = make(map[model.MethodKey]*entry)
	return out
}

// Absorb merges entries into the registry. When a stored contract has a
// different parameter shape than the one held here, the stored one wins.
func (r *Registry) Absorb(entries []packet.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range entries {
		key := in.Method.Key()
		e, ok := r.entries[key]
		if !ok {
			r.entries[key] = &entry{method: in.Method, contract: in.Contract.Clone()}
			continue
		}
		if err := e.contract.MergeWith(in.Contract); err != nil {
			r.logger.Debug("replace contract", "method", in.Method.String(), "error", err)
			e.contract = in.Contract.Clone()
		}
	}
}

// Reset forgets everything.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[model.MethodKey]*entry)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Methods lists the known methods in a stable order.
func (r *Registry) Methods() []model.MethodInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.MethodInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.method)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Signature returns a copy of the contract for m, or nil.
func (r *Registry) Signature(m model.MethodInfo) *contract.Contract {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[m.Key()]
	if !ok {
		return nil
	}
	return e.contract.Clone()
}
