package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/domain/episodes"
)

type EpisodesRepo struct {
	db *sql.DB

	// afterCommit corre justo después del commit de ApplyCodes (tests).
	afterCommit func()
}

// querier lo cumplen *sql.DB y *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewEpisodesRepo(db *sql.DB) *EpisodesRepo {
	return &EpisodesRepo{db: db}
}

const episodeColumns = `
	id, nhs_number, patient_name,
	admission_date, discharge_date, specialty,
	source_text, status,
	created_by, created_at, updated_at,
	submitted_by, submitted_at,
	reviewed_by, reviewed_at, review_notes`

func (r *EpisodesRepo) Create(ctx context.Context, e episodes.Episode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episodes (`+episodeColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		e.ID,
		e.NHSNumber,
		e.PatientName,
		e.AdmissionDate,
		toNullTime(e.DischargeDate),
		e.Specialty,
		e.SourceText,
		string(e.Status),
		e.CreatedBy,
		e.CreatedAt,
		e.UpdatedAt,
		e.SubmittedBy,
		toNullTime(e.SubmittedAt),
		e.ReviewedBy,
		toNullTime(e.ReviewedAt),
		e.ReviewNotes,
	)
	if err != nil {
		return err
	}

	if err := insertCodes(ctx, tx, e.ID, coding.CodeSet{Diagnoses: e.Diagnoses, Procedures: e.Procedures}); err != nil {
		return err
	}
	return tx.Commit()
}

// Update persiste solo los campos de workflow.
func (r *EpisodesRepo) Update(ctx context.Context, e episodes.Episode) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE episodes
		SET
			status = $2,
			updated_at = $3,
			submitted_by = $4,
			submitted_at = $5,
			reviewed_by = $6,
			reviewed_at = $7,
			review_notes = $8
		WHERE id = $1
	`,
		e.ID,
		string(e.Status),
		e.UpdatedAt,
		e.SubmittedBy,
		toNullTime(e.SubmittedAt),
		e.ReviewedBy,
		toNullTime(e.ReviewedAt),
		e.ReviewNotes,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return episodes.ErrNotFound
	}
	return nil
}

func (r *EpisodesRepo) GetByID(ctx context.Context, id string) (episodes.Episode, error) {
	return getEpisode(ctx, r.db, id)
}

func getEpisode(ctx context.Context, q querier, id string) (episodes.Episode, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return episodes.Episode{}, episodes.ErrNotFound
	}

	row := q.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = $1`, id)
	e, err := scanEpisode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return episodes.Episode{}, episodes.ErrNotFound
		}
		return episodes.Episode{}, err
	}

	if err := loadCodes(ctx, q, &e); err != nil {
		return episodes.Episode{}, err
	}
	return e, nil
}

func (r *EpisodesRepo) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM episodes WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *EpisodesRepo) List(ctx context.Context, f episodes.ListFilter) ([]episodes.Episode, error) {
	where := []string{"TRUE"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("admission_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("admission_date <= $%d", *f.To)
	}

	q := `SELECT ` + episodeColumns + ` FROM episodes WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]episodes.Episode, 0)
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := loadCodes(ctx, r.db, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyCodes borra e inserta los códigos en una transacción, con la fila del
// episodio bloqueada. Si el contexto se cancela antes del commit no cambia nada.
func (r *EpisodesRepo) ApplyCodes(ctx context.Context, id string, u episodes.CodeUpdate) (episodes.Episode, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return episodes.Episode{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM episodes WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return episodes.Episode{}, episodes.ErrNotFound
		}
		return episodes.Episode{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM episode_diagnoses WHERE episode_id = $1`, id); err != nil {
		return episodes.Episode{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM episode_procedures WHERE episode_id = $1`, id); err != nil {
		return episodes.Episode{}, err
	}
	if err := insertCodes(ctx, tx, id, u.Codes); err != nil {
		return episodes.Episode{}, err
	}

	if u.Narrative != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE episodes SET source_text = $2, updated_at = $3 WHERE id = $1`, id, *u.Narrative, u.At); err != nil {
			return episodes.Episode{}, err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE episodes SET updated_at = $2 WHERE id = $1`, id, u.At); err != nil {
			return episodes.Episode{}, err
		}
	}

	// Lectura dentro de la tx: tras el commit el ctx del caller puede estar cancelado.
	ep, err := getEpisode(ctx, tx, id)
	if err != nil {
		return episodes.Episode{}, err
	}
	if err := tx.Commit(); err != nil {
		return episodes.Episode{}, err
	}
	if r.afterCommit != nil {
		r.afterCommit()
	}
	return ep, nil
}

func insertCodes(ctx context.Context, tx *sql.Tx, episodeID string, codes coding.CodeSet) error {
	for i, d := range codes.Diagnoses {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO episode_diagnoses (episode_id, position, code, description, is_primary)
			VALUES ($1,$2,$3,$4,$5)
		`, episodeID, i, d.Code, d.Description, d.IsPrimary); err != nil {
			return err
		}
	}
	for i, p := range codes.Procedures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO episode_procedures (episode_id, position, code, description, performed_on)
			VALUES ($1,$2,$3,$4,$5)
		`, episodeID, i, p.Code, p.Description, toNullTime(p.PerformedOn)); err != nil {
			return err
		}
	}
	return nil
}

func loadCodes(ctx context.Context, q querier, e *episodes.Episode) error {
	dxRows, err := q.QueryContext(ctx, `
		SELECT code, description, is_primary
		FROM episode_diagnoses
		WHERE episode_id = $1
		ORDER BY position ASC
	`, e.ID)
	if err != nil {
		return err
	}
	defer dxRows.Close()

	e.Diagnoses = make([]coding.Diagnosis, 0)
	for dxRows.Next() {
		var d coding.Diagnosis
		if err := dxRows.Scan(&d.Code, &d.Description, &d.IsPrimary); err != nil {
			return err
		}
		e.Diagnoses = append(e.Diagnoses, d)
	}
	if err := dxRows.Err(); err != nil {
		return err
	}

	pxRows, err := q.QueryContext(ctx, `
		SELECT code, description, performed_on
		FROM episode_procedures
		WHERE episode_id = $1
		ORDER BY position ASC
	`, e.ID)
	if err != nil {
		return err
	}
	defer pxRows.Close()

	e.Procedures = make([]coding.Procedure, 0)
	for pxRows.Next() {
		var p coding.Procedure
		var on sql.NullTime
		if err := pxRows.Scan(&p.Code, &p.Description, &on); err != nil {
			return err
		}
		p.PerformedOn = fromNullTime(on)
		e.Procedures = append(e.Procedures, p)
	}
	return pxRows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEpisode(s scanner) (episodes.Episode, error) {
	var e episodes.Episode
	var status string
	var discharge, submitted, reviewed sql.NullTime
	if err := s.Scan(
		&e.ID,
		&e.NHSNumber,
		&e.PatientName,
		&e.AdmissionDate,
		&discharge,
		&e.Specialty,
		&e.SourceText,
		&status,
		&e.CreatedBy,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.SubmittedBy,
		&submitted,
		&e.ReviewedBy,
		&reviewed,
		&e.ReviewNotes,
	); err != nil {
		return episodes.Episode{}, err
	}
	e.Status = episodes.Status(status)
	e.DischargeDate = fromNullTime(discharge)
	e.SubmittedAt = fromNullTime(submitted)
	e.ReviewedAt = fromNullTime(reviewed)
	return e, nil
}
