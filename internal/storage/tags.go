package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// AttachTags associates tags with a query and records an audit entry, all in
// one transaction. Tags and associations that already exist are left as is,
// so re-attaching is a no-op rather than an error.
func (s *Store) AttachTags(ctx context.Context, queryID string, tags []Tag, actor string) error {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	details, err := json.Marshal(map[string]any{"tags": names})
	if err != nil {
		return fmt.Errorf("marshaling audit details: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tags {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name, color) VALUES (?, ?)`, t.Name, t.Color); err != nil {
				return fmt.Errorf("inserting tag %q: %w", t.Name, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO query_tags (query_id, tag_name) VALUES (?, ?)`, queryID, t.Name); err != nil {
				return fmt.Errorf("attaching tag %q to %s: %w", t.Name, queryID, err)
			}
		}
		return insertAudit(ctx, tx, AuditEntry{
			Actor:    actor,
			Action:   "tags_attached",
			EntityID: queryID,
			Details:  string(details),
		})
	})
}

// TagsForQuery returns the tags attached to a query ordered by name.
func (s *Store) TagsForQuery(ctx context.Context, queryID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, t.color FROM tags t
		JOIN query_tags qt ON qt.tag_name = t.name
		WHERE qt.query_id = ? ORDER BY t.name`, queryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.Name, &t.Color); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
