package db

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/model"
	"github.com/hpungsan/tabsynth/internal/synth"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.SynthError{
	Code:    "UNIQUE_CONSTRAINT",
	Message: "unique constraint violation",
}

const modelColumns = `
	id, name_raw, name_norm, source_path, row_count, column_count, width,
	epochs, state, config_json, schema_json, state_blob, created_at, updated_at
`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Insert stores a new model and its loss history in one transaction.
func Insert(db *sql.DB, m *model.Model) error {
	return withTx(db, func(tx *sql.Tx) error {
		return insertModel(tx, m)
	})
}

// ReplaceByName deletes any model holding m's name, then inserts m.
// Returns the ID of the replaced model, or "" when nothing was replaced.
func ReplaceByName(db *sql.DB, m *model.Model) (string, error) {
	var replaced string
	err := withTx(db, func(tx *sql.Tx) error {
		if m.NameNorm != nil {
			err := tx.QueryRow(`SELECT id FROM models WHERE name_norm = ?`, *m.NameNorm).Scan(&replaced)
			if err != nil && err != sql.ErrNoRows {
				return errors.NewInternal(err)
			}
			if replaced != "" {
				if _, err := tx.Exec(`DELETE FROM models WHERE id = ?`, replaced); err != nil {
					return errors.NewInternal(err)
				}
			}
		}
		return insertModel(tx, m)
	})
	if err != nil {
		return "", err
	}
	return replaced, nil
}

func insertModel(q queryer, m *model.Model) error {
	configJSON, err := json.Marshal(m.Config)
	if err != nil {
		return errors.NewInternal(err)
	}
	schemaJSON, err := json.Marshal(m.Schema)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `INSERT INTO models (` + modelColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = q.Exec(query,
		m.ID, toNullString(m.NameRaw), toNullString(m.NameNorm), m.SourcePath,
		m.Rows, m.Columns, m.Width, m.Epochs, m.State,
		string(configJSON), string(schemaJSON), m.Blob, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	for _, l := range m.Losses {
		_, err := q.Exec(`
			INSERT INTO losses (model_id, epoch, generator_loss, discriminator_loss)
			VALUES (?, ?, ?, ?)
		`, m.ID, l.Epoch, l.GeneratorLoss, l.DiscriminatorLoss)
		if err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByID retrieves a model with its state blob and losses.
func GetByID(db *sql.DB, id string) (*model.Model, error) {
	row := db.QueryRow(`SELECT `+modelColumns+` FROM models WHERE id = ?`, id)
	return getModel(db, row, id)
}

// GetByName retrieves a model by normalized name.
func GetByName(db *sql.DB, nameNorm string) (*model.Model, error) {
	row := db.QueryRow(`SELECT `+modelColumns+` FROM models WHERE name_norm = ?`, nameNorm)
	return getModel(db, row, nameNorm)
}

func getModel(db *sql.DB, row *sql.Row, identifier string) (*model.Model, error) {
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(identifier)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	losses, err := GetLosses(db, m.ID)
	if err != nil {
		return nil, err
	}
	m.Losses = losses
	return m, nil
}

// CheckNameExists checks if a model with the given normalized name exists.
func CheckNameExists(db *sql.DB, nameNorm string) (bool, error) {
	var exists int
	err := db.QueryRow(`SELECT 1 FROM models WHERE name_norm = ? LIMIT 1`, nameNorm).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// List returns model summaries, newest first, along with the total count.
func List(db *sql.DB, limit, offset int) ([]model.Summary, int, error) {
	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM models`).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := db.Query(`
		SELECT id, name_raw, name_norm, source_path, row_count, column_count, width,
			epochs, state, length(state_blob), created_at, updated_at
		FROM models
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var summaries []model.Summary
	for rows.Next() {
		var s model.Summary
		var nameRaw, nameNorm sql.NullString
		if err := rows.Scan(&s.ID, &nameRaw, &nameNorm, &s.Source, &s.Rows, &s.Columns, &s.Width,
			&s.Epochs, &s.State, &s.BlobBytes, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		s.Name = fromNullString(nameRaw)
		s.NameNorm = fromNullString(nameNorm)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return summaries, total, nil
}

// GetLosses returns the loss history of a model ordered by epoch.
func GetLosses(db *sql.DB, modelID string) ([]synth.EpochLoss, error) {
	rows, err := db.Query(`
		SELECT epoch, generator_loss, discriminator_loss
		FROM losses
		WHERE model_id = ?
		ORDER BY epoch ASC
	`, modelID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	losses := []synth.EpochLoss{}
	for rows.Next() {
		var l synth.EpochLoss
		if err := rows.Scan(&l.Epoch, &l.GeneratorLoss, &l.DiscriminatorLoss); err != nil {
			return nil, errors.NewInternal(err)
		}
		losses = append(losses, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return losses, nil
}

// Rename sets a new name on an existing model.
func Rename(db *sql.DB, id string, nameRaw, nameNorm *string) error {
	now := time.Now().Unix()
	result, err := db.Exec(`UPDATE models SET name_raw = ?, name_norm = ?, updated_at = ? WHERE id = ?`,
		toNullString(nameRaw), toNullString(nameNorm), now, id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// Delete removes a model. Its losses are removed by the foreign key cascade.
func Delete(db *sql.DB, id string) error {
	result, err := db.Exec(`DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// scanModel scans a single row into a Model.
func scanModel(row *sql.Row) (*model.Model, error) {
	var m model.Model
	var nameRaw, nameNorm sql.NullString
	var configJSON, schemaJSON string

	err := row.Scan(
		&m.ID, &nameRaw, &nameNorm, &m.SourcePath, &m.Rows, &m.Columns, &m.Width,
		&m.Epochs, &m.State, &configJSON, &schemaJSON, &m.Blob, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.NameRaw = fromNullString(nameRaw)
	m.NameNorm = fromNullString(nameNorm)
	if err := json.Unmarshal([]byte(configJSON), &m.Config); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schemaJSON), &m.Schema); err != nil {
		return nil, err
	}
	return &m, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
