package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"clinical-coding/internal/domain/audit"
)

// AuditRepo solo inserta y lee. seq desempata timestamps iguales.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	payload, err := audit.EncodePayload(e.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, ts, performed_by,
			action, entity_type, entity_id,
			payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		e.ID,
		e.Timestamp,
		e.PerformedBy,
		string(e.Action),
		e.EntityType,
		e.EntityID,
		string(payload),
	)
	return err
}

func (r *AuditRepo) GetByID(ctx context.Context, id string) (audit.Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return audit.Entry{}, audit.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, ts, performed_by, action, entity_type, entity_id, payload
		FROM audit_log
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *AuditRepo) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ts, performed_by, action, entity_type, entity_id, payload
		FROM audit_log
		ORDER BY ts DESC, seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepo) LastForEntity(ctx context.Context, entityType, entityID string, action audit.Action) (audit.Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, ts, performed_by, action, entity_type, entity_id, payload
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2 AND action = $3
		ORDER BY ts DESC, seq DESC
		LIMIT 1
	`, entityType, entityID, string(action))
	return scanEntry(row)
}

func scanEntry(s scanner) (audit.Entry, error) {
	var e audit.Entry
	var action string
	var raw []byte
	if err := s.Scan(
		&e.ID,
		&e.Timestamp,
		&e.PerformedBy,
		&action,
		&e.EntityType,
		&e.EntityID,
		&raw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Entry{}, audit.ErrNotFound
		}
		return audit.Entry{}, err
	}

	e.Action = audit.Action(action)
	e.Timestamp = e.Timestamp.UTC()
	p, err := audit.DecodePayload(e.Action, raw)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("decode audit %s: %w", e.ID, err)
	}
	e.Payload = p
	return e, nil
}
