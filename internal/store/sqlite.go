package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/callsig/internal/contract"
	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/packet"
)

const contractCacheSize = 4096

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	cache *lru.Cache[model.MethodKey, *contract.Contract]

	// cacheMu orders cache fills against invalidations. gen counts
	// invalidations; a fill that started before one is discarded.
	cacheMu sync.Mutex
	gen     uint64
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	cache, err := lru.New[model.MethodKey, *contract.Contract](contractCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	s := &SQLiteStore{db: db, cache: cache}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.Make().String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS gems (
		id      INTEGER PRIMARY KEY,
		name    TEXT NOT NULL,
		version TEXT NOT NULL,
		UNIQUE (name, version)
	);

	CREATE TABLE IF NOT EXISTS classes (
		id     INTEGER PRIMARY KEY,
		gem_id INTEGER NOT NULL REFERENCES gems(id),
		fqn    TEXT NOT NULL,
		UNIQUE (gem_id, fqn)
	);

	CREATE TABLE IF NOT EXISTS methods (
		id           INTEGER PRIMARY KEY,
		class_id     INTEGER NOT NULL REFERENCES classes(id),
		name         TEXT NOT NULL,
		visibility   INTEGER NOT NULL,
		has_location INTEGER NOT NULL,
		path         TEXT NOT NULL DEFAULT '',
		lineno       INTEGER NOT NULL DEFAULT 0,
		UNIQUE (class_id, name, visibility, has_location, path, lineno)
	);

	CREATE TABLE IF NOT EXISTS signatures (
		id         TEXT PRIMARY KEY,
		method_id  INTEGER NOT NULL UNIQUE REFERENCES methods(id),
		format     INTEGER NOT NULL,
		contract   BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_gems_name ON gems(name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const methodWhere = `g.name = ? AND g.version = ? AND c.fqn = ? AND m.name = ?
	AND m.visibility = ? AND m.has_location = ? AND m.path = ? AND m.lineno = ?`

const methodJoin = `methods m
	JOIN classes c ON c.id = m.class_id
	JOIN gems g ON g.id = c.gem_id`

func methodArgs(m model.MethodInfo) []any {
	g := m.Class.GemOrZero()
	var path string
	var line int
	if m.Location != nil {
		path, line = m.Location.Path, m.Location.LineNo
	}
	return []any{g.Name, g.Version, m.Class.FQN, m.Name, int(m.Visibility), m.Location != nil, path, line}
}

func ensureMethod(ctx context.Context, q querier, m model.MethodInfo) (int64, error) {
	g := m.Class.GemOrZero()
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO gems (name, version) VALUES (?, ?)`, g.Name, g.Version); err != nil {
		return 0, fmt.Errorf("insert gem: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO classes (gem_id, fqn)
		 SELECT id, ? FROM gems WHERE name = ? AND version = ?`, m.Class.FQN, g.Name, g.Version); err != nil {
		return 0, fmt.Errorf("insert class: %w", err)
	}
	args := methodArgs(m)
	// args is (gem name, gem version, fqn, method columns...).
	insertArgs := append(append([]any{}, args[3:]...), args[:3]...)
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO methods (class_id, name, visibility, has_location, path, lineno)
		 SELECT c.id, ?, ?, ?, ?, ? FROM classes c JOIN gems g ON g.id = c.gem_id
		 WHERE g.name = ? AND g.version = ? AND c.fqn = ?`,
		insertArgs...); err != nil {
		return 0, fmt.Errorf("insert method: %w", err)
	}
	var id int64
	err := q.QueryRowContext(ctx, `SELECT m.id FROM `+methodJoin+` WHERE `+methodWhere, args...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup method: %w", err)
	}
	return id, nil
}

func decodeStored(format int, data []byte) (*contract.Contract, error) {
	if format != FormatVersion {
		return nil, fmt.Errorf("stored contract format %d, want %d: %w", format, FormatVersion, ErrVersionMismatch)
	}
	return contract.UnmarshalContract(data)
}

func loadContract(ctx context.Context, q querier, m model.MethodInfo) (*contract.Contract, error) {
	var format int
	var data []byte
	err := q.QueryRowContext(ctx,
		`SELECT s.format, s.contract FROM `+signedJoin+`
		 WHERE `+methodWhere, methodArgs(m)...).Scan(&format, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select signature: %w", err)
	}
	c, err := decodeStored(format, data)
	if err != nil {
		return nil, fmt.Errorf("decode signature %s: %w", m, err)
	}
	return c, nil
}

func (s *SQLiteStore) putContract(ctx context.Context, q querier, m model.MethodInfo, c *contract.Contract) error {
	methodID, err := ensureMethod(ctx, q, m)
	if err != nil {
		return err
	}
	data, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO signatures (id, method_id, format, contract, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(method_id) DO UPDATE SET
		   format = excluded.format, contract = excluded.contract, updated_at = excluded.updated_at`,
		s.newID(), methodID, FormatVersion, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert signature: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadPacket(ctx context.Context, p packet.Packet) error {
	entries, err := p.Entries()
	if err != nil {
		return fmt.Errorf("read packet: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		stored, err := loadContract(ctx, tx, e.Method)
		if err != nil {
			return err
		}
		merged := mergeEntry(stored, e.Contract.Clone())
		merged.Minimize()
		if err := s.putContract(ctx, tx, e.Method, merged); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	keys := make([]model.MethodKey, len(entries))
	for i, e := range entries {
		keys[i] = e.Method.Key()
	}
	s.invalidate(keys...)
	return nil
}

func (s *SQLiteStore) FormPackets(ctx context.Context, filter *ExportFilter) ([]packet.Packet, error) {
	gems, err := s.RegisteredGems(ctx)
	if err != nil {
		return nil, err
	}
	var packets []packet.Packet
	for _, g := range gems {
		if !filter.Allows(g) {
			continue
		}
		entries, err := s.gemEntries(ctx, g)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}
		p, err := packet.Encode(entries)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMethod(row scanner, g model.GemInfo, extra ...any) (model.MethodInfo, error) {
	var m model.MethodInfo
	var vis int
	var hasLoc bool
	var path string
	var line int
	dest := append([]any{&m.Class.FQN, &m.Name, &vis, &hasLoc, &path, &line}, extra...)
	if err := row.Scan(dest...); err != nil {
		return m, err
	}
	m.Class.Gem = model.GemOrNil(g.Name, g.Version)
	m.Visibility = model.Visibility(vis)
	if hasLoc {
		m.Location = &model.Location{Path: path, LineNo: line}
	}
	return m, nil
}

func (s *SQLiteStore) gemEntries(ctx context.Context, g model.GemInfo) ([]packet.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.fqn, m.name, m.visibility, m.has_location, m.path, m.lineno, s.format, s.contract
		 FROM `+signedJoin+`
		 WHERE g.name = ? AND g.version = ?
		 ORDER BY c.fqn, m.name, m.path, m.lineno`, g.Name, g.Version)
	if err != nil {
		return nil, fmt.Errorf("select gem signatures: %w", err)
	}
	defer rows.Close()

	var entries []packet.Entry
	for rows.Next() {
		var format int
		var data []byte
		m, err := scanMethod(rows, g, &format, &data)
		if err != nil {
			return nil, err
		}
		c, err := decodeStored(format, data)
		if err != nil {
			return nil, fmt.Errorf("decode signature %s: %w", m, err)
		}
		entries = append(entries, packet.Entry{Method: m, Contract: c})
	}
	return entries, rows.Err()
}

const signedJoin = `gems g
	JOIN classes c ON c.gem_id = g.id
	JOIN methods m ON m.class_id = c.id
	JOIN signatures s ON s.method_id = m.id`

func (s *SQLiteStore) RegisteredGems(ctx context.Context) ([]model.GemInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT g.name, g.version FROM `+signedJoin+` ORDER BY g.name, g.version`)
	if err != nil {
		return nil, fmt.Errorf("select gems: %w", err)
	}
	defer rows.Close()

	var gems []model.GemInfo
	for rows.Next() {
		var g model.GemInfo
		if err := rows.Scan(&g.Name, &g.Version); err != nil {
			return nil, err
		}
		gems = append(gems, g)
	}
	return gems, rows.Err()
}

func (s *SQLiteStore) gemVersions(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT g.version FROM `+signedJoin+` WHERE g.name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("select gem versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *SQLiteStore) ClosestRegisteredGem(ctx context.Context, g model.GemInfo) (*model.GemInfo, error) {
	versions, err := s.gemVersions(ctx, g.Name)
	if err != nil {
		return nil, err
	}
	return closest(g, versions), nil
}

func (s *SQLiteStore) RegisteredClasses(ctx context.Context, g model.GemInfo) ([]model.ClassInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT c.fqn FROM `+signedJoin+`
		 WHERE g.name = ? AND g.version = ? ORDER BY c.fqn`, g.Name, g.Version)
	if err != nil {
		return nil, fmt.Errorf("select classes: %w", err)
	}
	defer rows.Close()

	var classes []model.ClassInfo
	for rows.Next() {
		c := model.ClassInfo{Gem: model.GemOrNil(g.Name, g.Version)}
		if err := rows.Scan(&c.FQN); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

func (s *SQLiteStore) RegisteredMethods(ctx context.Context, cls model.ClassInfo) ([]model.MethodInfo, error) {
	g := cls.GemOrZero()
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.fqn, m.name, m.visibility, m.has_location, m.path, m.lineno FROM `+signedJoin+`
		 WHERE g.name = ? AND g.version = ? AND c.fqn = ?
		 ORDER BY m.name, m.path, m.lineno`, g.Name, g.Version, cls.FQN)
	if err != nil {
		return nil, fmt.Errorf("select methods: %w", err)
	}
	defer rows.Close()

	var methods []model.MethodInfo
	for rows.Next() {
		m, err := scanMethod(rows, g)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// invalidate drops cached contracts after a committed write.
func (s *SQLiteStore) invalidate(keys ...model.MethodKey) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	for _, k := range keys {
		s.cache.Remove(k)
	}
}

// cached returns the cached contract for key and the invalidation count
// the lookup saw.
func (s *SQLiteStore) cached(key model.MethodKey) (*contract.Contract, bool, uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	c, ok := s.cache.Get(key)
	return c, ok, s.gen
}

// fill caches c unless an invalidation happened since gen.
func (s *SQLiteStore) fill(key model.MethodKey, c *contract.Contract, gen uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.gen == gen {
		s.cache.Add(key, c)
	}
}

func (s *SQLiteStore) Signature(ctx context.Context, m model.MethodInfo) (*contract.Contract, error) {
	key := m.Key()
	c, ok, gen := s.cached(key)
	if ok {
		return c.Clone(), nil
	}
	c, err := loadContract(ctx, s.db, m)
	if err != nil || c == nil {
		return nil, err
	}
	s.fill(key, c, gen)
	return c.Clone(), nil
}

func (s *SQLiteStore) DeleteSignature(ctx context.Context, m model.MethodInfo) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM signatures WHERE method_id IN (SELECT m.id FROM `+methodJoin+` WHERE `+methodWhere+`)`,
		methodArgs(m)...)
	s.invalidate(m.Key())
	if err != nil {
		return fmt.Errorf("delete signature: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutSignature(ctx context.Context, m model.MethodInfo, c *contract.Contract) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.putContract(ctx, tx, m, c); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidate(m.Key())
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
