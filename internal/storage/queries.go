package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateQuery inserts q together with its submission audit entry in one
// transaction.
func (s *Store) CreateQuery(ctx context.Context, q Query, audit AuditEntry) error {
	refs := q.FileRefs
	if refs == nil {
		refs = []string{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshaling file refs: %w", err)
	}
	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	ts := createdAt.UTC().Format(time.RFC3339)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO queries (id, owner_id, text, modality, audio_ref, file_refs, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.OwnerID, q.Text, string(q.Modality), q.AudioRef, string(refsJSON), string(q.Status), ts, ts,
		)
		if err != nil {
			return fmt.Errorf("inserting query %s: %w", q.ID, err)
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *Store) GetQuery(ctx context.Context, id string) (Query, error) {
	var q Query
	var modality, status, refsJSON, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, text, modality, audio_ref, file_refs, status, created_at, updated_at
		FROM queries WHERE id = ?`, id,
	).Scan(&q.ID, &q.OwnerID, &q.Text, &modality, &q.AudioRef, &refsJSON, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Query{}, ErrNotFound
	}
	if err != nil {
		return Query{}, err
	}
	q.Modality = Modality(modality)
	q.Status = Status(status)
	if err := json.Unmarshal([]byte(refsJSON), &q.FileRefs); err != nil {
		return Query{}, fmt.Errorf("decoding file refs for %s: %w", id, err)
	}
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return Query{}, err
	}
	if q.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Query{}, err
	}
	return q, nil
}

// UpdateQueryText replaces the text of a query that is still processing.
// Used when transcription or extraction normalizes the input.
func (s *Store) UpdateQueryText(ctx context.Context, id, text string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queries SET text = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`, text, nowString(), id)
	if err != nil {
		return fmt.Errorf("updating query text %s: %w", id, err)
	}
	return s.checkTransition(ctx, res, id)
}

// CompleteQuery moves a processing query to completed and inserts its
// response in one transaction. The response's embedding is not written here.
func (s *Store) CompleteQuery(ctx context.Context, queryID string, resp Response) error {
	answerJSON, err := json.Marshal(resp.Answer)
	if err != nil {
		return fmt.Errorf("marshaling answer: %w", err)
	}
	now := nowString()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE queries SET status = 'completed', updated_at = ?
			WHERE id = ? AND status = 'processing'`, now, queryID)
		if err != nil {
			return fmt.Errorf("completing query %s: %w", queryID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("completing query %s: %w", queryID, ErrInvalidTransition)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO responses (id, query_id, answer_json, published, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, ?)`,
			resp.ID, queryID, string(answerJSON), now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting response for query %s: %w", queryID, err)
		}
		return nil
	})
}

// FailQuery marks a non-terminal query as failed. Failing an already failed
// or completed query returns ErrInvalidTransition.
func (s *Store) FailQuery(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queries SET status = 'failed', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`, nowString(), id)
	if err != nil {
		return fmt.Errorf("failing query %s: %w", id, err)
	}
	return s.checkTransition(ctx, res, id)
}

// checkTransition distinguishes a missing query from a rejected transition
// when a guarded UPDATE touched no rows.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queries WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrInvalidTransition
}
