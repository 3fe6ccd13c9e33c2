package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rcliao/callsig/internal/contract"
	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/packet"
)

// LocalMerger is implemented by stores that keep this node's learnings apart
// from imported data.
type LocalMerger interface {
	MergeLocal(ctx context.Context, p packet.Packet) error
}

// DiffStore keeps what was received from elsewhere apart from what was
// learned here. The local store only ever holds contracts that differ from
// the received ones, so exporting local yields exactly the new learnings.
type DiffStore struct {
	received Store
	local    Store

	// mu serializes ReadPacket's write-compare-delete sequence.
	mu sync.Mutex
}

func NewDiffStore(received, local Store) *DiffStore {
	return &DiffStore{received: received, local: local}
}

// Received returns the baseline store.
func (d *DiffStore) Received() Store { return d.received }

// Local returns the store of new learnings.
func (d *DiffStore) Local() Store { return d.local }

// ReadPacket imports p: it is merged into both stores, then every local
// entry that ended up identical to the packet's contract is dropped, as
// nothing in it is new beyond what was just received.
func (d *DiffStore) ReadPacket(ctx context.Context, p packet.Packet) error {
	entries, err := p.Entries()
	if err != nil {
		return fmt.Errorf("read packet: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.received.ReadPacket(ctx, p); err != nil {
		return fmt.Errorf("received: %w", err)
	}
	if err := d.local.ReadPacket(ctx, p); err != nil {
		return fmt.Errorf("local: %w", err)
	}
	for _, e := range entries {
		lc, err := d.local.Signature(ctx, e.Method)
		if err != nil {
			return fmt.Errorf("local signature: %w", err)
		}
		if lc != nil && contract.Equal(lc, e.Contract) {
			if err := d.local.DeleteSignature(ctx, e.Method); err != nil {
				return fmt.Errorf("local delete: %w", err)
			}
		}
	}
	return nil
}

// MergeLocal stores contracts learned on this node. They go to the local
// store only, so FormPackets exports them. A method new to the local store
// starts from its received contract, keeping the local-first read path
// complete.
func (d *DiffStore) MergeLocal(ctx context.Context, p packet.Packet) error {
	entries, err := p.Entries()
	if err != nil {
		return fmt.Errorf("read packet: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, e := range entries {
		lc, err := d.local.Signature(ctx, e.Method)
		if err != nil {
			return fmt.Errorf("local signature: %w", err)
		}
		if lc != nil {
			continue
		}
		rc, err := d.received.Signature(ctx, e.Method)
		if err != nil {
			return fmt.Errorf("received signature: %w", err)
		}
		if rc != nil && rc.MergeWith(e.Contract) == nil {
			entries[i].Contract = rc
		}
	}
	merged, err := packet.Encode(entries)
	if err != nil {
		return err
	}
	if err := d.local.ReadPacket(ctx, merged); err != nil {
		return fmt.Errorf("local: %w", err)
	}
	return nil
}

// FormPackets exports only the local store.
func (d *DiffStore) FormPackets(ctx context.Context, filter *ExportFilter) ([]packet.Packet, error) {
	return d.local.FormPackets(ctx, filter)
}

func (d *DiffStore) RegisteredGems(ctx context.Context) ([]model.GemInfo, error) {
	a, err := d.received.RegisteredGems(ctx)
	if err != nil {
		return nil, err
	}
	b, err := d.local.RegisteredGems(ctx)
	if err != nil {
		return nil, err
	}
	return union(a, b, func(g model.GemInfo) string { return g.Name + "\x00" + g.Version }), nil
}

// ClosestRegisteredGem searches the gems of both stores.
func (d *DiffStore) ClosestRegisteredGem(ctx context.Context, g model.GemInfo) (*model.GemInfo, error) {
	var versions []string
	for _, st := range []Store{d.received, d.local} {
		c, err := st.ClosestRegisteredGem(ctx, g)
		if err != nil {
			return nil, err
		}
		if c != nil {
			versions = append(versions, c.Version)
		}
	}
	return closest(g, versions), nil
}

func (d *DiffStore) RegisteredClasses(ctx context.Context, g model.GemInfo) ([]model.ClassInfo, error) {
	a, err := d.received.RegisteredClasses(ctx, g)
	if err != nil {
		return nil, err
	}
	b, err := d.local.RegisteredClasses(ctx, g)
	if err != nil {
		return nil, err
	}
	return union(a, b, func(c model.ClassInfo) string { return c.FQN }), nil
}

func (d *DiffStore) RegisteredMethods(ctx context.Context, c model.ClassInfo) ([]model.MethodInfo, error) {
	a, err := d.received.RegisteredMethods(ctx, c)
	if err != nil {
		return nil, err
	}
	b, err := d.local.RegisteredMethods(ctx, c)
	if err != nil {
		return nil, err
	}
	return union(a, b, func(m model.MethodInfo) string { return fmt.Sprint(m.Key()) }), nil
}

// Signature prefers the local contract.
func (d *DiffStore) Signature(ctx context.Context, m model.MethodInfo) (*contract.Contract, error) {
	c, err := d.local.Signature(ctx, m)
	if err != nil || c != nil {
		return c, err
	}
	return d.received.Signature(ctx, m)
}

func (d *DiffStore) DeleteSignature(ctx context.Context, m model.MethodInfo) error {
	return d.local.DeleteSignature(ctx, m)
}

func (d *DiffStore) PutSignature(ctx context.Context, m model.MethodInfo, c *contract.Contract) error {
	return d.local.PutSignature(ctx, m, c)
}

func (d *DiffStore) Close() error {
	return errors.Join(d.local.Close(), d.received.Close())
}

// union merges two lists, dropping duplicates by key and sorting by key.
func union[T any](a, b []T, key func(T) string) []T {
	seen := make(map[string]bool, len(a)+len(b))
	var out []T
	for _, list := range [][]T{a, b} {
		for _, v := range list {
			k := key(v)
			if !seen[k] {
				seen[k] = true
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}
