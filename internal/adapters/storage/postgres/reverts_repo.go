package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"clinical-coding/internal/domain/reverts"
)

type RevertsRepo struct {
	db *sql.DB
}

func NewRevertsRepo(db *sql.DB) *RevertsRepo {
	return &RevertsRepo{db: db}
}

const revertColumns = `
	id, episode_id, audit_id,
	requested_by, requested_at, notes,
	status, resolved_by, resolved_at`

func (r *RevertsRepo) Create(ctx context.Context, req reverts.Request) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO revert_requests (`+revertColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		req.ID,
		req.EpisodeID,
		req.AuditID,
		req.RequestedBy,
		req.RequestedAt,
		req.Notes,
		string(req.Status),
		req.ResolvedBy,
		toNullTime(req.ResolvedAt),
	)
	return err
}

func (r *RevertsRepo) GetByID(ctx context.Context, id string) (reverts.Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return reverts.Request{}, reverts.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+revertColumns+` FROM revert_requests WHERE id = $1`, id)
	req, err := scanRevert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return reverts.Request{}, reverts.ErrNotFound
		}
		return reverts.Request{}, err
	}
	return req, nil
}

func (r *RevertsRepo) ListByEpisode(ctx context.Context, episodeID string) ([]reverts.Request, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+revertColumns+`
		FROM revert_requests
		WHERE episode_id = $1
		ORDER BY requested_at DESC
	`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]reverts.Request, 0)
	for rows.Next() {
		req, err := scanRevert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Resolve es condicional sobre status = 'Pending'. Si no actualiza ninguna
// fila distingue entre inexistente y ya resuelta.
func (r *RevertsRepo) Resolve(ctx context.Context, id string, status reverts.Status, by string, at time.Time) (reverts.Request, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE revert_requests
		SET status = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+revertColumns,
		id, string(status), by, at, string(reverts.StatusPending),
	)
	req, err := scanRevert(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return reverts.Request{}, err
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return reverts.Request{}, err
	}
	return reverts.Request{}, reverts.ErrConflict
}

func scanRevert(s scanner) (reverts.Request, error) {
	var req reverts.Request
	var status string
	var resolved sql.NullTime
	if err := s.Scan(
		&req.ID,
		&req.EpisodeID,
		&req.AuditID,
		&req.RequestedBy,
		&req.RequestedAt,
		&req.Notes,
		&status,
		&req.ResolvedBy,
		&resolved,
	); err != nil {
		return reverts.Request{}, err
	}
	req.Status = reverts.Status(status)
	req.ResolvedAt = fromNullTime(resolved)
	return req, nil
}
