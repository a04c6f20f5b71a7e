package ops

import (
	"database/sql"

	"github.com/hpungsan/tabsynth/internal/db"
)

// DeleteInput contains parameters for the Delete operation.
type DeleteInput struct {
	ID   string
	Name string
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// Delete permanently removes a model and its loss history.
func Delete(database *sql.DB, input DeleteInput) (*DeleteOutput, error) {
	addr, err := ValidateAddress(input.ID, input.Name)
	if err != nil {
		return nil, err
	}

	id := addr.ID
	if !addr.ByID {
		m, err := db.GetByName(database, addr.Name)
		if err != nil {
			return nil, err
		}
		id = m.ID
	}

	if err := db.Delete(database, id); err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: true, ID: id}, nil
}
