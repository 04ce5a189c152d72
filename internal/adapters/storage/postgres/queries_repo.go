package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"clinical-coding/internal/domain/queries"
)

type QueriesRepo struct {
	db *sql.DB
}

func NewQueriesRepo(db *sql.DB) *QueriesRepo {
	return &QueriesRepo{db: db}
}

const queryColumns = `
	id, episode_id, to_clinician,
	subject, body,
	created_by, created_at, external_reference,
	response_text, responded_by, responded_at`

func (r *QueriesRepo) Create(ctx context.Context, q queries.Query) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clinician_queries (`+queryColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		q.ID,
		q.EpisodeID,
		q.ToClinician,
		q.Subject,
		q.Body,
		q.CreatedBy,
		q.CreatedAt,
		q.ExternalReference,
		q.ResponseText,
		q.RespondedBy,
		toNullTime(q.RespondedAt),
	)
	return err
}

func (r *QueriesRepo) Update(ctx context.Context, q queries.Query) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clinician_queries
		SET
			external_reference = $2,
			response_text = $3,
			responded_by = $4,
			responded_at = $5
		WHERE id = $1
	`,
		q.ID,
		q.ExternalReference,
		q.ResponseText,
		q.RespondedBy,
		toNullTime(q.RespondedAt),
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return queries.ErrNotFound
	}
	return nil
}

func (r *QueriesRepo) GetByID(ctx context.Context, id string) (queries.Query, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return queries.Query{}, queries.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM clinician_queries WHERE id = $1`, id)
	q, err := scanQuery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queries.Query{}, queries.ErrNotFound
		}
		return queries.Query{}, err
	}
	return q, nil
}

func (r *QueriesRepo) ListByEpisode(ctx context.Context, episodeID string) ([]queries.Query, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queryColumns+`
		FROM clinician_queries
		WHERE episode_id = $1
		ORDER BY created_at ASC
	`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]queries.Query, 0)
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func scanQuery(s scanner) (queries.Query, error) {
	var q queries.Query
	var responded sql.NullTime
	if err := s.Scan(
		&q.ID,
		&q.EpisodeID,
		&q.ToClinician,
		&q.Subject,
		&q.Body,
		&q.CreatedBy,
		&q.CreatedAt,
		&q.ExternalReference,
		&q.ResponseText,
		&q.RespondedBy,
		&responded,
	); err != nil {
		return queries.Query{}, err
	}
	q.RespondedAt = fromNullTime(responded)
	return q, nil
}
