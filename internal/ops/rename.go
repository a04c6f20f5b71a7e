package ops

import (
	"database/sql"

	"github.com/hpungsan/tabsynth/internal/db"
	"github.com/hpungsan/tabsynth/internal/errors"
)

// RenameInput contains parameters for the Rename operation.
type RenameInput struct {
	ID      string
	Name    string
	NewName string // empty clears the name
}

// RenameOutput contains the result of the Rename operation.
type RenameOutput struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

// Rename changes or clears a model's name.
func Rename(database *sql.DB, input RenameInput) (*RenameOutput, error) {
	addr, err := ValidateAddress(input.ID, input.Name)
	if err != nil {
		return nil, err
	}
	m, err := resolve(database, addr)
	if err != nil {
		return nil, err
	}
	raw, norm, err := normalizeName(input.NewName)
	if err != nil {
		return nil, err
	}

	if err := db.Rename(database, m.ID, raw, norm); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewNameAlreadyExists(*raw)
		}
		return nil, err
	}
	return &RenameOutput{ID: m.ID, Name: raw}, nil
}
