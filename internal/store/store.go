// Package store persists learned contracts. SQLiteStore and BadgerStore are
// the concrete backends; DiffStore layers a local store over a received one
// so only new learnings are exported.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/callsig/internal/contract"
	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/packet"
)

// FormatVersion is the contract encoding stored alongside each signature.
const FormatVersion = 1

// ErrVersionMismatch is returned when stored or imported data was written
// with an incompatible format.
var ErrVersionMismatch = errors.New("format version mismatch")

// ExportFilter restricts FormPackets to a set of gems. With Include set only
// the listed gems are exported, otherwise the listed gems are skipped.
type ExportFilter struct {
	Include bool
	Gems    []model.GemInfo
}

// Allows reports whether g passes the filter. A nil filter allows everything.
func (f *ExportFilter) Allows(g model.GemInfo) bool {
	if f == nil {
		return true
	}
	for _, x := range f.Gems {
		if x == g {
			return f.Include
		}
	}
	return !f.Include
}

// Store defines the signature storage interface.
type Store interface {
	// ReadPacket merges every entry of p into the stored contracts.
	ReadPacket(ctx context.Context, p packet.Packet) error

	// FormPackets exports stored contracts, one packet per gem.
	FormPackets(ctx context.Context, filter *ExportFilter) ([]packet.Packet, error)

	RegisteredGems(ctx context.Context) ([]model.GemInfo, error)

	// ClosestRegisteredGem returns the registered version of g's gem closest
	// to g.Version, or nil when the gem is unknown.
	ClosestRegisteredGem(ctx context.Context, g model.GemInfo) (*model.GemInfo, error)

	// RegisteredClasses lists classes of g; the zero GemInfo addresses
	// classes without a gem.
	RegisteredClasses(ctx context.Context, g model.GemInfo) ([]model.ClassInfo, error)

	RegisteredMethods(ctx context.Context, c model.ClassInfo) ([]model.MethodInfo, error)

	// Signature returns the stored contract for m, or nil when absent.
	Signature(ctx context.Context, m model.MethodInfo) (*contract.Contract, error)

	DeleteSignature(ctx context.Context, m model.MethodInfo) error

	// PutSignature replaces the stored contract for m.
	PutSignature(ctx context.Context, m model.MethodInfo, c *contract.Contract) error

	Close() error
}

// mergeEntry folds an incoming contract into the stored one. A stored
// contract of a different parameter shape is replaced.
func mergeEntry(stored, in *contract.Contract) *contract.Contract {
	if stored == nil {
		return in
	}
	if err := stored.MergeWith(in); err != nil {
		return in
	}
	return stored
}

// closest picks the candidate version nearest to g.
func closest(g model.GemInfo, versions []string) *model.GemInfo {
	v, ok := model.ClosestVersion(g.Version, versions)
	if !ok {
		return nil
	}
	return &model.GemInfo{Name: g.Name, Version: v}
}
