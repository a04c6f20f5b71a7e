package ops

import (
	"database/sql"

	"github.com/hpungsan/tabsynth/internal/model"
	"github.com/hpungsan/tabsynth/internal/synth"
	"github.com/hpungsan/tabsynth/internal/table"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID   string
	Name string
}

// FetchOutput describes one model without its state blob.
type FetchOutput struct {
	model.Summary
	Config synth.Config      `json:"config"`
	Schema table.Schema      `json:"schema"`
	Losses []synth.EpochLoss `json:"losses"`
}

// Fetch retrieves a model's metadata and loss history by ID or name.
func Fetch(database *sql.DB, input FetchInput) (*FetchOutput, error) {
	addr, err := ValidateAddress(input.ID, input.Name)
	if err != nil {
		return nil, err
	}
	m, err := resolve(database, addr)
	if err != nil {
		return nil, err
	}

	losses := m.Losses
	if losses == nil {
		losses = []synth.EpochLoss{}
	}
	return &FetchOutput{
		Summary: m.ToSummary(),
		Config:  m.Config,
		Schema:  m.Schema,
		Losses:  losses,
	}, nil
}
