package ops

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tabsynth/internal/config"
	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/model"
	"github.com/hpungsan/tabsynth/internal/synth"
	"github.com/hpungsan/tabsynth/internal/table"
)

// MaxSampleRows bounds a single Sample call.
const MaxSampleRows = 1_000_000

// SampleInput contains parameters for the Sample operation.
type SampleInput struct {
	ID   string
	Name string

	Rows       int               // required
	OutputPath string            // default: ~/.tabsynth/samples/<name>-<timestamp>.csv
	Inline     bool              // return the CSV in the output instead of writing a file
	Conditions map[string]string // discrete column -> required value
	MaxRetries int               // default: config sample_max_retries
	BestEffort bool
	Seed       uint64
}

// SampleOutput contains the result of the Sample operation.
type SampleOutput struct {
	ModelID   string `json:"model_id"`
	Requested int    `json:"requested"`
	Rows      int    `json:"rows"`
	Partial   bool   `json:"partial"`
	Batches   int    `json:"batches"`
	Path      string `json:"path,omitempty"`
	CSV       string `json:"csv,omitempty"`
}

// Sample generates synthetic rows from a stored model.
func Sample(ctx context.Context, database *sql.DB, cfg *config.Config, logger *zap.Logger, input SampleInput) (*SampleOutput, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr, err := ValidateAddress(input.ID, input.Name)
	if err != nil {
		return nil, err
	}
	if input.Rows <= 0 || input.Rows > MaxSampleRows {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("rows must be between 1 and %d", MaxSampleRows))
	}
	if input.MaxRetries < 0 {
		return nil, errors.NewInvalidRequest("max_retries must not be negative")
	}
	if input.MaxRetries == 0 && cfg != nil {
		input.MaxRetries = cfg.SampleMaxRetries
	}

	m, err := resolve(database, addr)
	if err != nil {
		return nil, err
	}

	outPath := input.OutputPath
	if !input.Inline {
		if outPath == "" {
			outPath, err = defaultSamplePath(m, time.Now())
			if err != nil {
				return nil, err
			}
		}
		if err := ValidatePath(outPath, PathCheckWrite, ".csv"); err != nil {
			return nil, err
		}
	}

	s, err := synth.Load(m.Blob, synth.WithLogger(logger.With(zap.String("model_id", m.ID))))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	res, err := s.Sample(ctx, input.Rows, synth.SampleOptions{
		Conditions: input.Conditions,
		MaxRetries: input.MaxRetries,
		BestEffort: input.BestEffort,
		Seed:       input.Seed,
	})
	if err != nil {
		return nil, err
	}

	out := &SampleOutput{
		ModelID:   m.ID,
		Requested: input.Rows,
		Rows:      res.Table.NumRows(),
		Partial:   res.Partial,
		Batches:   res.Batches,
	}

	if input.Inline {
		var buf bytes.Buffer
		if err := table.WriteCSV(&buf, res.Table); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.CSV = buf.String()
		return out, nil
	}

	if err := writeCSVAtomic(outPath, res.Table); err != nil {
		return nil, err
	}
	out.Path, _ = filepath.Abs(outPath)
	return out, nil
}

// defaultSamplePath names the output after the model and the current time.
func defaultSamplePath(m *model.Model, now time.Time) (string, error) {
	dir, err := DefaultSamplesDir()
	if err != nil {
		return "", err
	}
	base := SanitizeForFilename(m.DisplayName())
	return filepath.Join(dir, fmt.Sprintf("%s-%s.csv", base, now.UTC().Format("20060102T150405Z"))), nil
}

// writeCSVAtomic writes to a temp file and renames it over path, so a failed write
// leaves any existing file untouched.
func writeCSVAtomic(path string, t *table.Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create output directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewInternal(fmt.Errorf("failed to create output file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := table.WriteCSV(file, t); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		file = nil
		return errors.NewInternal(err)
	}
	file = nil

	if err := os.Rename(tempPath, path); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to finalize output file: %w", err))
	}
	success = true
	return nil
}
