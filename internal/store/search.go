package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/callsig/internal/model"
)

// SearchParams holds parameters for searching stored methods.
type SearchParams struct {
	Query string // substring of the class name or method name
	Gem   string // gem name filter; empty means any
	Limit int
}

// SearchResult is a method with a stored signature.
type SearchResult struct {
	Method    model.MethodInfo `json:"method"`
	UpdatedAt string           `json:"updated_at"`
}

// Search finds methods with a signature whose class or name contains the
// query. Matching is case-insensitive for ASCII.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	query := "%" + p.Query + "%"
	where := []string{"(c.fqn LIKE ? OR m.name LIKE ? OR c.fqn || '#' || m.name LIKE ?)"}
	args := []any{query, query, query}
	if p.Gem != "" {
		where = append(where, "g.name = ?")
		args = append(args, p.Gem)
	}

	sql := fmt.Sprintf(`
		SELECT c.fqn, m.name, m.visibility, m.has_location, m.path, m.lineno,
		       g.name, g.version, s.updated_at
		FROM %s
		WHERE %s
		ORDER BY s.updated_at DESC, c.fqn, m.name
		LIMIT ?`, signedJoin, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var gemName, gemVersion string
		m, err := scanMethod(rows, model.GemInfo{}, &gemName, &gemVersion, &r.UpdatedAt)
		if err != nil {
			return nil, err
		}
		m.Class.Gem = model.GemOrNil(gemName, gemVersion)
		r.Method = m
		results = append(results, r)
	}
	return results, rows.Err()
}
