package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/rcliao/callsig/internal/binio"
	"github.com/rcliao/callsig/internal/contract"
	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/packet"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM; used by tests.
	InMemory bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// entries written per badger transaction in ReadPacket
const badgerBatch = 512

// BadgerStore implements Store on a badger key-value database. Keys are
//
//	"sig" 0 gemName 0 gemVersion 0 fqn 0 <encoded method>
//
// so gem and class listings are prefix scans. Values are a format byte
// followed by the encoded contract.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens or creates a badger database.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

var sigPrefix = []byte("sig\x00")

func gemPrefix(g model.GemInfo) []byte {
	b := append([]byte(nil), sigPrefix...)
	b = append(b, g.Name...)
	b = append(b, 0)
	b = append(b, g.Version...)
	return append(b, 0)
}

func classPrefix(c model.ClassInfo) []byte {
	b := gemPrefix(c.GemOrZero())
	b = append(b, c.FQN...)
	return append(b, 0)
}

func methodKey(m model.MethodInfo) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(classPrefix(m.Class))
	w := binio.NewWriter(&buf)
	packet.WriteMethod(w, m)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode key: %w", err)
	}
	return buf.Bytes(), nil
}

// parseKey splits a signature key into its gem and method.
func parseKey(key []byte) (model.GemInfo, model.MethodInfo, error) {
	parts := bytes.SplitN(key[len(sigPrefix):], []byte{0}, 4)
	if len(parts) != 4 {
		return model.GemInfo{}, model.MethodInfo{}, fmt.Errorf("%w: key %q", contract.ErrCorrupt, key)
	}
	g := model.GemInfo{Name: string(parts[0]), Version: string(parts[1])}
	m, err := packet.ReadMethod(binio.NewReader(bytes.NewReader(parts[3])))
	if err != nil {
		return g, m, fmt.Errorf("%w: key %q: %v", contract.ErrCorrupt, key, err)
	}
	return g, m, nil
}

func encodeValue(c *contract.Contract) ([]byte, error) {
	data, err := c.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append([]byte{FormatVersion}, data...), nil
}

func decodeValue(v []byte) (*contract.Contract, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty value", contract.ErrCorrupt)
	}
	return decodeStored(int(v[0]), v[1:])
}

func getContract(txn *badger.Txn, key []byte) (*contract.Contract, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c *contract.Contract
	err = item.Value(func(v []byte) error {
		c, err = decodeValue(v)
		return err
	})
	return c, err
}

func (s *BadgerStore) ReadPacket(ctx context.Context, p packet.Packet) error {
	entries, err := p.Entries()
	if err != nil {
		return fmt.Errorf("read packet: %w", err)
	}
	for start := 0; start < len(entries); start += badgerBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := entries[start:min(start+badgerBatch, len(entries))]
		err := s.db.Update(func(txn *badger.Txn) error {
			for _, e := range batch {
				key, err := methodKey(e.Method)
				if err != nil {
					return err
				}
				stored, err := getContract(txn, key)
				if err != nil {
					return fmt.Errorf("get %s: %w", e.Method, err)
				}
				merged := mergeEntry(stored, e.Contract.Clone())
				merged.Minimize()
				val, err := encodeValue(merged)
				if err != nil {
					return err
				}
				if err := txn.Set(key, val); err != nil {
					return fmt.Errorf("set %s: %w", e.Method, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("badger read packet: %w", err)
		}
	}
	return nil
}

// scan visits every key under prefix. Values are decoded only when withValues
// is set; otherwise fn receives a nil contract.
func (s *BadgerStore) scan(prefix []byte, withValues bool, fn func(g model.GemInfo, m model.MethodInfo, c *contract.Contract) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = withValues
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			g, m, err := parseKey(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			var c *contract.Contract
			if withValues {
				err = item.Value(func(v []byte) error {
					c, err = decodeValue(v)
					return err
				})
				if err != nil {
					return fmt.Errorf("decode %s: %w", m, err)
				}
			}
			if err := fn(g, m, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) FormPackets(ctx context.Context, filter *ExportFilter) ([]packet.Packet, error) {
	var packets []packet.Packet
	var current model.GemInfo
	var entries []packet.Entry
	flush := func() error {
		if len(entries) == 0 {
			return nil
		}
		p, err := packet.Encode(entries)
		if err != nil {
			return err
		}
		packets = append(packets, p)
		entries = nil
		return nil
	}

	err := s.scan(sigPrefix, true, func(g model.GemInfo, m model.MethodInfo, c *contract.Contract) error {
		if g != current {
			if err := flush(); err != nil {
				return err
			}
			current = g
		}
		if filter.Allows(g) {
			entries = append(entries, packet.Entry{Method: m, Contract: c})
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return nil, fmt.Errorf("badger form packets: %w", err)
	}
	return packets, nil
}

func (s *BadgerStore) RegisteredGems(ctx context.Context) ([]model.GemInfo, error) {
	var gems []model.GemInfo
	err := s.scan(sigPrefix, false, func(g model.GemInfo, _ model.MethodInfo, _ *contract.Contract) error {
		if len(gems) == 0 || gems[len(gems)-1] != g {
			gems = append(gems, g)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger gems: %w", err)
	}
	return gems, nil
}

func (s *BadgerStore) ClosestRegisteredGem(ctx context.Context, g model.GemInfo) (*model.GemInfo, error) {
	prefix := append(append([]byte(nil), sigPrefix...), g.Name...)
	prefix = append(prefix, 0)
	var versions []string
	err := s.scan(prefix, false, func(found model.GemInfo, _ model.MethodInfo, _ *contract.Contract) error {
		if len(versions) == 0 || versions[len(versions)-1] != found.Version {
			versions = append(versions, found.Version)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger gem versions: %w", err)
	}
	return closest(g, versions), nil
}

func (s *BadgerStore) RegisteredClasses(ctx context.Context, g model.GemInfo) ([]model.ClassInfo, error) {
	var classes []model.ClassInfo
	err := s.scan(gemPrefix(g), false, func(_ model.GemInfo, m model.MethodInfo, _ *contract.Contract) error {
		if len(classes) == 0 || classes[len(classes)-1].FQN != m.Class.FQN {
			classes = append(classes, m.Class)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger classes: %w", err)
	}
	return classes, nil
}

func (s *BadgerStore) RegisteredMethods(ctx context.Context, c model.ClassInfo) ([]model.MethodInfo, error) {
	var methods []model.MethodInfo
	err := s.scan(classPrefix(c), false, func(_ model.GemInfo, m model.MethodInfo, _ *contract.Contract) error {
		methods = append(methods, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger methods: %w", err)
	}
	return methods, nil
}

func (s *BadgerStore) Signature(ctx context.Context, m model.MethodInfo) (*contract.Contract, error) {
	key, err := methodKey(m)
	if err != nil {
		return nil, err
	}
	var c *contract.Contract
	err = s.db.View(func(txn *badger.Txn) error {
		c, err = getContract(txn, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger signature %s: %w", m, err)
	}
	return c, nil
}

func (s *BadgerStore) DeleteSignature(ctx context.Context, m model.MethodInfo) error {
	key, err := methodKey(m)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err != nil {
		return fmt.Errorf("badger delete %s: %w", m, err)
	}
	return nil
}

func (s *BadgerStore) PutSignature(ctx context.Context, m model.MethodInfo, c *contract.Contract) error {
	key, err := methodKey(m)
	if err != nil {
		return err
	}
	val, err := encodeValue(c)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.Set(key, val) }); err != nil {
		return fmt.Errorf("badger put %s: %w", m, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
