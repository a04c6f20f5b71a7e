package ops

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tabsynth/internal/config"
	"github.com/hpungsan/tabsynth/internal/db"
	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/model"
	"github.com/hpungsan/tabsynth/internal/synth"
	"github.com/hpungsan/tabsynth/internal/table"
)

// FitMode controls name collision behavior.
type FitMode string

const (
	FitModeError   FitMode = "error"   // default: fail on name collision
	FitModeReplace FitMode = "replace" // replace the existing model
)

// FitInput contains parameters for the Fit operation.
type FitInput struct {
	DataPath     string   // required CSV
	MetadataPath string   // optional metadata JSON; takes precedence over Discrete
	Discrete     []string // discrete column names when no metadata is given
	Name         string   // optional
	Mode         FitMode  // default: FitModeError

	// Overrides of the configured training defaults; zero keeps the default.
	Epochs    int
	BatchSize int
	Pac       int
	Seed      *uint64
	MaxSteps  int
}

// FitOutput contains the result of the Fit operation.
type FitOutput struct {
	ID        string           `json:"id"`
	Name      *string          `json:"name,omitempty"`
	Replaced  string           `json:"replaced,omitempty"`
	Rows      int              `json:"rows"`
	Columns   int              `json:"columns"`
	Width     int              `json:"width"`
	Epochs    int              `json:"epochs"`
	State     string           `json:"state"`
	FinalLoss *synth.EpochLoss `json:"final_loss,omitempty"`
}

// Fit trains a synthesizer on a CSV file and stores it in the registry.
func Fit(ctx context.Context, database *sql.DB, cfg *config.Config, logger *zap.Logger, input FitInput) (*FitOutput, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if input.Mode == "" {
		input.Mode = FitModeError
	}
	if input.Mode != FitModeError && input.Mode != FitModeReplace {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace")
	}

	nameRaw, nameNorm, err := normalizeName(input.Name)
	if err != nil {
		return nil, err
	}
	// Fail before training rather than after.
	if nameNorm != nil && input.Mode == FitModeError {
		exists, err := db.CheckNameExists(database, *nameNorm)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errors.NewNameAlreadyExists(*nameRaw)
		}
	}

	tc, err := trainingConfig(cfg, input)
	if err != nil {
		return nil, err
	}

	t, err := readTable(input.DataPath)
	if err != nil {
		return nil, err
	}
	schema, err := loadSchema(t.Header, input.MetadataPath, input.Discrete)
	if err != nil {
		return nil, err
	}

	s, err := synth.New(tc, synth.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := s.Fit(ctx, t, schema); err != nil {
		return nil, err
	}
	blob, err := s.MarshalBinary()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().Unix()
	source, _ := filepath.Abs(input.DataPath)
	m := &model.Model{
		ID:         id,
		NameRaw:    nameRaw,
		NameNorm:   nameNorm,
		SourcePath: source,
		Rows:       t.NumRows(),
		Columns:    len(t.Header),
		Width:      s.Transformer().Width(),
		Epochs:     len(s.Losses()),
		State:      s.State().String(),
		Config:     tc,
		Schema:     *schema,
		Blob:       blob,
		Losses:     s.Losses(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	out := &FitOutput{
		ID:      id,
		Name:    nameRaw,
		Rows:    m.Rows,
		Columns: m.Columns,
		Width:   m.Width,
		Epochs:  m.Epochs,
		State:   m.State,
	}
	if last, ok := m.FinalLoss(); ok {
		out.FinalLoss = &last
	}

	if input.Mode == FitModeReplace {
		replaced, err := db.ReplaceByName(database, m)
		if err != nil {
			return nil, err
		}
		out.Replaced = replaced
		return out, nil
	}

	if err := db.Insert(database, m); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewNameAlreadyExists(*nameRaw)
		}
		return nil, err
	}
	return out, nil
}

// trainingConfig applies the per-call overrides on top of the configured defaults.
func trainingConfig(cfg *config.Config, input FitInput) (synth.Config, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := *cfg
	if input.Epochs > 0 {
		c.Epochs = input.Epochs
	}
	if input.BatchSize > 0 {
		c.BatchSize = input.BatchSize
	}
	if input.Pac > 0 {
		c.Pac = input.Pac
	}
	if input.Seed != nil {
		c.Seed = *input.Seed
	}
	tc, err := c.Training()
	if err != nil {
		return synth.Config{}, err
	}
	if input.MaxSteps < 0 {
		return synth.Config{}, errors.NewInvalidConfig("max_steps", "must not be negative")
	}
	tc.MaxSteps = input.MaxSteps
	return tc, nil
}

// readTable reads a CSV training file.
func readTable(path string) (*table.Table, error) {
	if err := ValidatePath(path, PathCheckRead, ".csv"); err != nil {
		return nil, err
	}
	f, err := openFileNoFollowRead(path)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	defer f.Close()

	t, err := table.ReadCSV(f)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return t, nil
}

// loadSchema builds the schema from a metadata file or a discrete column list.
func loadSchema(header []string, metadataPath string, discrete []string) (*table.Schema, error) {
	if metadataPath == "" {
		return table.FromDiscrete(header, discrete)
	}
	if err := ValidatePath(metadataPath, PathCheckRead, ".json"); err != nil {
		return nil, err
	}
	f, err := openFileNoFollowRead(metadataPath)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return table.ParseMetadata(data, header)
}
