// Package model defines the persisted record of a fitted synthesizer.
package model

import (
	"github.com/hpungsan/tabsynth/internal/synth"
	"github.com/hpungsan/tabsynth/internal/table"
)

// Model is a fitted synthesizer as stored in the registry.
type Model struct {
	// ID is a ULID that uniquely identifies this model
	ID string

	// NameRaw is the name as provided by the user (nullable)
	NameRaw *string

	// NameNorm is the normalized name, unique across the registry (nullable)
	NameNorm *string

	// SourcePath is the CSV the model was trained on
	SourcePath string

	// Rows and Columns describe the training table
	Rows    int
	Columns int

	// Width is the transformed row width
	Width int

	// Epochs is the number of completed epochs
	Epochs int

	// State is the terminal training state ("converged" or "step_limit_reached")
	State string

	// Config is the training configuration used for the fit
	Config synth.Config

	// Schema is the column layout the model was fitted with
	Schema table.Schema

	// Blob is the compressed synthesizer state (see synth.Load)
	Blob []byte

	// Losses are the per-epoch training losses in epoch order
	Losses []synth.EpochLoss

	CreatedAt int64
	UpdatedAt int64
}

// Summary is a model's metadata without its state blob.
type Summary struct {
	ID        string  `json:"id"`
	Name      *string `json:"name,omitempty"`
	NameNorm  *string `json:"name_norm,omitempty"`
	Source    string  `json:"source"`
	Rows      int     `json:"rows"`
	Columns   int     `json:"columns"`
	Width     int     `json:"width"`
	Epochs    int     `json:"epochs"`
	State     string  `json:"state"`
	BlobBytes int     `json:"blob_bytes"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// ToSummary strips the state blob and losses.
func (m *Model) ToSummary() Summary {
	return Summary{
		ID:        m.ID,
		Name:      m.NameRaw,
		NameNorm:  m.NameNorm,
		Source:    m.SourcePath,
		Rows:      m.Rows,
		Columns:   m.Columns,
		Width:     m.Width,
		Epochs:    m.Epochs,
		State:     m.State,
		BlobBytes: len(m.Blob),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FinalLoss returns the last recorded epoch loss, if any.
func (m *Model) FinalLoss() (synth.EpochLoss, bool) {
	if len(m.Losses) == 0 {
		return synth.EpochLoss{}, false
	}
	return m.Losses[len(m.Losses)-1], true
}
