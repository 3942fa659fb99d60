package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const responseColumns = `id, query_id, answer_json, embedding, rating, published, seo_article, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponse(row rowScanner) (Response, error) {
	var r Response
	var answerJSON, createdAt, updatedAt string
	var blob []byte
	var rating sql.NullInt64
	var published int
	var article sql.NullString
	if err := row.Scan(&r.ID, &r.QueryID, &answerJSON, &blob, &rating, &published, &article, &createdAt, &updatedAt); err != nil {
		return Response{}, err
	}
	if err := json.Unmarshal([]byte(answerJSON), &r.Answer); err != nil {
		return Response{}, fmt.Errorf("decoding answer for %s: %w", r.ID, err)
	}
	if blob != nil {
		vec, err := DecodeVector(blob)
		if err != nil {
			return Response{}, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = vec
	}
	if rating.Valid {
		v := int(rating.Int64)
		r.Rating = &v
	}
	r.Published = published != 0
	if article.Valid {
		a := article.String
		r.Article = &a
	}
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return Response{}, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Response{}, err
	}
	return r, nil
}

func (s *Store) GetResponse(ctx context.Context, id string) (Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Response{}, ErrNotFound
	}
	return r, err
}

func (s *Store) GetResponseByQuery(ctx context.Context, queryID string) (Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE query_id = ?`, queryID))
	if errors.Is(err, sql.ErrNoRows) {
		return Response{}, ErrNotFound
	}
	return r, err
}

// SetResponseEmbedding stores vec on the response if it has none yet. An
// embedding that is already set is left untouched.
func (s *Store) SetResponseEmbedding(ctx context.Context, id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding for response %s", id)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE responses SET embedding = ?, updated_at = ?
		WHERE id = ? AND embedding IS NULL`, EncodeVector(vec), nowString(), id)
	if err != nil {
		return fmt.Errorf("storing embedding for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.responseExists(ctx, id)
	}
	return nil
}

// RateResponse records a 1..5 rating with an audit entry in one transaction.
// needsArticle reports whether the response has no article yet.
func (s *Store) RateResponse(ctx context.Context, id string, rating int, actor string) (needsArticle bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE responses SET rating = ?, updated_at = ? WHERE id = ?`, rating, nowString(), id)
		if err != nil {
			return fmt.Errorf("rating response %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		var missing int
		if err := tx.QueryRowContext(ctx, `SELECT seo_article IS NULL FROM responses WHERE id = ?`, id).Scan(&missing); err != nil {
			return fmt.Errorf("checking article for %s: %w", id, err)
		}
		needsArticle = missing == 1

		return insertAudit(ctx, tx, AuditEntry{
			Actor:    actor,
			Action:   "response_rated",
			EntityID: id,
			Details:  `{"rating":` + strconv.Itoa(rating) + `}`,
		})
	})
	return needsArticle, err
}

// SetArticle stores the generated long-form article for a response.
func (s *Store) SetArticle(ctx context.Context, id, article string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE responses SET seo_article = ?, updated_at = ? WHERE id = ?`, article, nowString(), id)
	if err != nil {
		return fmt.Errorf("storing article for %s: %w", id, err)
	}
	return rowsOrNotFound(res)
}

func (s *Store) SetPublished(ctx context.Context, id string, published bool) error {
	flag := 0
	if published {
		flag = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE responses SET published = ?, updated_at = ? WHERE id = ?`, flag, nowString(), id)
	if err != nil {
		return fmt.Errorf("publishing response %s: %w", id, err)
	}
	return rowsOrNotFound(res)
}

// ListPublished returns all published responses, newest first.
func (s *Store) ListPublished(ctx context.Context) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE published = 1 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) responseExists(ctx context.Context, id string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM responses WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return nil
}

func rowsOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingEmbedding is an answered response that has no embedding yet.
type PendingEmbedding struct {
	ResponseID string
	Question   string
	Answer     string
}

// ResponsesWithoutEmbedding returns up to limit responses whose embedding is
// still null, oldest first.
func (s *Store) ResponsesWithoutEmbedding(ctx context.Context, limit int) ([]PendingEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, q.text, r.answer_json FROM responses r
		JOIN queries q ON q.id = r.query_id
		WHERE r.embedding IS NULL
		ORDER BY r.created_at ASC, r.rowid ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingEmbedding
	for rows.Next() {
		var p PendingEmbedding
		var answerJSON string
		if err := rows.Scan(&p.ResponseID, &p.Question, &answerJSON); err != nil {
			return nil, err
		}
		var a Answer
		if err := json.Unmarshal([]byte(answerJSON), &a); err != nil {
			return nil, fmt.Errorf("decoding answer for %s: %w", p.ResponseID, err)
		}
		p.Answer = a.Text
		out = append(out, p)
	}
	return out, rows.Err()
}
