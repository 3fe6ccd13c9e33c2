package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/packet"
)

// RMCSchema is the envelope version of .rmc files.
const RMCSchema uint16 = 1

// RMCExt is the extension of exported files.
const RMCExt = ".rmc"

const exportWorkers = 4

type rmcEnvelope struct {
	Schema  uint16 `msgpack:"schema"`
	GemName string `msgpack:"gem_name"`
	GemVer  string `msgpack:"gem_version"`
	Packet  []byte `msgpack:"packet"`
}

// RMCFileName names the export file of g.
func RMCFileName(g model.GemInfo) string {
	if g.IsZero() {
		return "_local" + RMCExt
	}
	return g.Name + "-" + g.Version + RMCExt
}

// WriteRMC writes p for gem g to path. The file appears atomically.
func WriteRMC(path string, g model.GemInfo, p packet.Packet) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".tmp-*"+RMCExt)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	zw, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		return err
	}
	env := rmcEnvelope{Schema: RMCSchema, GemName: g.Name, GemVer: g.Version, Packet: p.Data}
	if err := msgpack.NewEncoder(zw).Encode(&env); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// ReadRMC reads a file written by WriteRMC.
func ReadRMC(path string) (model.GemInfo, packet.Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.GemInfo{}, packet.Packet{}, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return model.GemInfo{}, packet.Packet{}, fmt.Errorf("decompress %s: %w", path, err)
	}
	defer zr.Close()

	var env rmcEnvelope
	if err := msgpack.NewDecoder(zr).Decode(&env); err != nil {
		return model.GemInfo{}, packet.Packet{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if env.Schema != RMCSchema {
		return model.GemInfo{}, packet.Packet{}, fmt.Errorf("%s has schema %d, want %d: %w",
			path, env.Schema, RMCSchema, ErrVersionMismatch)
	}
	return model.GemInfo{Name: env.GemName, Version: env.GemVer}, packet.Packet{Data: env.Packet}, nil
}

// ExportDir writes one file per gem exported by st.FormPackets. It returns
// the written file names.
func ExportDir(ctx context.Context, st Store, dir string, filter *ExportFilter) ([]string, error) {
	packets, err := st.FormPackets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("form packets: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	names := make([]string, len(packets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(exportWorkers)
	for i, p := range packets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries, err := p.Entries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return nil
			}
			gem := entries[0].Method.Class.GemOrZero()
			names[i] = RMCFileName(gem)
			return WriteRMC(filepath.Join(dir, names[i]), gem, p)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var written []string
	for _, n := range names {
		if n != "" {
			written = append(written, n)
		}
	}
	sort.Strings(written)
	return written, nil
}

// ImportDir reads every .rmc file in dir and stores each contract with
// PutSignature. It stops at the first error and returns the number of
// signatures stored so far.
func ImportDir(ctx context.Context, st Store, dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read import dir: %w", err)
	}
	var paths []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), RMCExt) || strings.HasPrefix(f.Name(), ".tmp-") {
			continue
		}
		paths = append(paths, filepath.Join(dir, f.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return 0, errors.New("no " + RMCExt + " files in " + dir)
	}

	n := 0
	for _, path := range paths {
		_, p, err := ReadRMC(path)
		if err != nil {
			return n, err
		}
		entries, err := p.Entries()
		if err != nil {
			return n, fmt.Errorf("%s: %w", path, err)
		}
		for _, e := range entries {
			if err := st.PutSignature(ctx, e.Method, e.Contract); err != nil {
				return n, fmt.Errorf("%s: put %s: %w", path, e.Method, err)
			}
			n++
		}
	}
	return n, nil
}
