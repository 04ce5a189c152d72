package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"clinical-coding/internal/domain/deadletter"
)

type DeadLettersRepo struct {
	db *sql.DB
}

func NewDeadLettersRepo(db *sql.DB) *DeadLettersRepo {
	return &DeadLettersRepo{db: db}
}

const deadLetterColumns = `
	id, kind, payload,
	error, attempts, status,
	created_at, last_tried_at`

func (r *DeadLettersRepo) Create(ctx context.Context, rec deadletter.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dead_letters (`+deadLetterColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		rec.ID,
		rec.Kind,
		string(rec.Payload),
		rec.Error,
		rec.Attempts,
		string(rec.Status),
		rec.CreatedAt,
		toNullTime(rec.LastTriedAt),
	)
	return err
}

func (r *DeadLettersRepo) Update(ctx context.Context, rec deadletter.Record) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dead_letters
		SET error = $2, attempts = $3, status = $4, last_tried_at = $5
		WHERE id = $1
	`,
		rec.ID,
		rec.Error,
		rec.Attempts,
		string(rec.Status),
		toNullTime(rec.LastTriedAt),
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return deadletter.ErrNotFound
	}
	return nil
}

func (r *DeadLettersRepo) GetByID(ctx context.Context, id string) (deadletter.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return deadletter.Record{}, deadletter.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = $1`, id)
	rec, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deadletter.Record{}, deadletter.ErrNotFound
		}
		return deadletter.Record{}, err
	}
	return rec, nil
}

func (r *DeadLettersRepo) List(ctx context.Context, status deadletter.Status, limit int) ([]deadletter.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deadLetterColumns+`
		FROM dead_letters
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]deadletter.Record, 0)
	for rows.Next() {
		rec, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanDeadLetter(s scanner) (deadletter.Record, error) {
	var rec deadletter.Record
	var payload, status string
	var tried sql.NullTime
	if err := s.Scan(
		&rec.ID,
		&rec.Kind,
		&payload,
		&rec.Error,
		&rec.Attempts,
		&status,
		&rec.CreatedAt,
		&tried,
	); err != nil {
		return deadletter.Record{}, err
	}
	rec.Payload = []byte(payload)
	rec.Status = deadletter.Status(status)
	rec.LastTriedAt = fromNullTime(tried)
	return rec, nil
}
