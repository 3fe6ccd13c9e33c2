// Package packet implements the unit of persistence exchanged between the
// registry and storage: a count followed by (method, contract) pairs.
package packet

import (
	"bytes"
	"fmt"

	"github.com/rcliao/callsig/internal/binio"
	"github.com/rcliao/callsig/internal/contract"
	"github.com/rcliao/callsig/internal/model"
)

// Entry pairs a method with its learned contract.
type Entry struct {
	Method   model.MethodInfo
	Contract *contract.Contract
}

// Packet is an encoded batch of entries:
//
//	count int32
//	count x (method, contract)
type Packet struct {
	Data []byte
}

// Encode serializes entries into one packet.
func Encode(entries []Entry) (Packet, error) {
	var buf bytes.Buffer
	w := binio.NewWriter(&buf)
	w.Int32(len(entries))
	for _, e := range entries {
		WriteMethod(w, e.Method)
		if err := w.Err(); err != nil {
			return Packet{}, fmt.Errorf("encode packet: %w", err)
		}
		if err := e.Contract.Encode(&buf); err != nil {
			return Packet{}, fmt.Errorf("encode packet entry %s: %w", e.Method, err)
		}
	}
	if err := w.Err(); err != nil {
		return Packet{}, fmt.Errorf("encode packet: %w", err)
	}
	return Packet{Data: buf.Bytes()}, nil
}

// Entries decodes the packet. Malformed input yields contract.ErrCorrupt.
func (p Packet) Entries() ([]Entry, error) {
	rd := bytes.NewReader(p.Data)
	r := binio.NewReader(rd)
	n := r.Int32()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: packet count: %v", contract.ErrCorrupt, err)
	}
	// Every entry takes well over one byte, which bounds a hostile count.
	if n < 0 || n > rd.Len() {
		return nil, fmt.Errorf("%w: packet count %d", contract.ErrCorrupt, n)
	}
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		m, err := ReadMethod(r)
		if err != nil {
			return nil, fmt.Errorf("%w: packet entry %d: %v", contract.ErrCorrupt, i, err)
		}
		c, err := contract.Decode(rd)
		if err != nil {
			return nil, fmt.Errorf("packet entry %d (%s): %w", i, m, err)
		}
		entries = append(entries, Entry{Method: m, Contract: c})
	}
	if rd.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after packet", contract.ErrCorrupt, rd.Len())
	}
	return entries, nil
}

// Len returns the number of entries without decoding them.
func (p Packet) Len() int {
	r := binio.NewReader(bytes.NewReader(p.Data))
	n := r.Int32()
	if r.Err() != nil || n < 0 {
		return 0
	}
	return n
}

// WriteMethod serializes m as: gem name, gem version (empty for no gem),
// class fqn, method name, visibility byte, location flag, path, line.
func WriteMethod(w *binio.Writer, m model.MethodInfo) {
	g := m.Class.GemOrZero()
	w.UTF(g.Name)
	w.UTF(g.Version)
	w.UTF(m.Class.FQN)
	w.UTF(m.Name)
	w.Byte(byte(m.Visibility))
	w.Bool(m.Location != nil)
	if m.Location != nil {
		w.UTF(m.Location.Path)
		w.Int32(m.Location.LineNo)
	}
}

// ReadMethod reads a method written by WriteMethod.
func ReadMethod(r *binio.Reader) (model.MethodInfo, error) {
	var m model.MethodInfo
	name, version := r.UTF(), r.UTF()
	m.Class.Gem = model.GemOrNil(name, version)
	m.Class.FQN = r.UTF()
	m.Name = r.UTF()
	m.Visibility = model.Visibility(r.Byte())
	if r.Bool() {
		m.Location = &model.Location{Path: r.UTF(), LineNo: r.Int32()}
	}
	if err := r.Err(); err != nil {
		return model.MethodInfo{}, err
	}
	if m.Visibility > model.Public {
		return model.MethodInfo{}, fmt.Errorf("visibility %d", m.Visibility)
	}
	return m, nil
}
