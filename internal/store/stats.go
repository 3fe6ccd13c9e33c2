package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string     `json:"db_path"`
	DBSizeBytes int64      `json:"db_size_bytes"`
	Gems        int        `json:"gems"`
	Classes     int        `json:"classes"`
	Methods     int        `json:"methods"`
	Signatures  int        `json:"signatures"`
	PerGem      []GemStats `json:"per_gem"`
}

// GemStats holds per-gem counts. The empty name is code outside any gem.
type GemStats struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Classes    int    `json:"classes"`
	Signatures int    `json:"signatures"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gems`).Scan(&st.Gems)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM classes`).Scan(&st.Classes)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM methods`).Scan(&st.Methods)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signatures`).Scan(&st.Signatures)

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.name, g.version, COUNT(DISTINCT c.id) AS classes, COUNT(*) AS sigs
		FROM `+signedJoin+`
		GROUP BY g.id ORDER BY sigs DESC, g.name`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var g GemStats
		rows.Scan(&g.Name, &g.Version, &g.Classes, &g.Signatures)
		st.PerGem = append(st.PerGem, g)
	}

	return st, nil
}
