// Package ops implements the registry operations shared by the CLI, MCP server and web UI.
// Each operation takes an input struct and returns an output struct ready for JSON.
package ops

import (
	"crypto/rand"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/tabsynth/internal/db"
	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/model"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Address is a validated model address.
type Address struct {
	ByID bool
	ID   string
	Name string // normalized
}

// ValidateAddress requires exactly one of id or name.
func ValidateAddress(id, name string) (*Address, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)

	if id != "" && name != "" {
		return nil, errors.NewInvalidRequest("ambiguous address: specify either id or name, not both")
	}
	if id == "" && name == "" {
		return nil, errors.NewInvalidRequest("must specify either id or name")
	}
	if id != "" {
		return &Address{ByID: true, ID: id}, nil
	}
	return &Address{Name: model.Normalize(name)}, nil
}

// resolve loads the model an address points at.
func resolve(database *sql.DB, addr *Address) (*model.Model, error) {
	if addr.ByID {
		return db.GetByID(database, addr.ID)
	}
	return db.GetByName(database, addr.Name)
}

// normalizeName validates an optional model name and returns raw and normalized forms.
func normalizeName(name string) (*string, *string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, nil
	}
	if !model.ValidName(name) {
		return nil, nil, errors.NewInvalidRequest("name must be at most 128 characters")
	}
	raw := strings.TrimSpace(name)
	norm := model.Normalize(name)
	return &raw, &norm, nil
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
