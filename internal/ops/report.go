package ops

import (
	"database/sql"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/model"
	"github.com/hpungsan/tabsynth/internal/synth"
)

// ReportInput contains parameters for the Report operation.
type ReportInput struct {
	ID   string
	Name string
}

// ReportOutput contains the rendered report.
type ReportOutput struct {
	ID       string `json:"id"`
	Markdown string `json:"markdown"`
}

// Report renders a markdown report of a stored model.
func Report(database *sql.DB, input ReportInput) (*ReportOutput, error) {
	addr, err := ValidateAddress(input.ID, input.Name)
	if err != nil {
		return nil, err
	}
	m, err := resolve(database, addr)
	if err != nil {
		return nil, err
	}
	s, err := synth.Load(m.Blob)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &ReportOutput{ID: m.ID, Markdown: model.Report(m, s.Transformer())}, nil
}
