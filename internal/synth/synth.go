// Package synth trains a conditional tabular GAN and samples synthetic tables from it.
package synth

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/nn"
	"github.com/hpungsan/tabsynth/internal/sampler"
	"github.com/hpungsan/tabsynth/internal/table"
	"github.com/hpungsan/tabsynth/internal/tensor"
	"github.com/hpungsan/tabsynth/internal/transform"
	"github.com/hpungsan/tabsynth/internal/vgm"
)

// Synthesizer is a tabular synthesizer. It is fitted once; afterwards only Sample is
// meaningful. A Synthesizer is not safe for concurrent Fit and Sample calls.
type Synthesizer struct {
	cfg    Config
	logger *zap.Logger

	transformer *transform.Transformer
	freq        *sampler.FrequencyTable
	generator   *nn.Generator
	losses      []EpochLoss
	state       State
	fittedAt    time.Time

	lossHook func(stage string, loss float64) float64
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates cfg and returns an unfitted synthesizer.
func New(cfg Config, opts ...Option) (*Synthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Synthesizer{cfg: cfg, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Config returns the training configuration.
func (s *Synthesizer) Config() Config { return s.cfg }

// Fitted reports whether Fit completed.
func (s *Synthesizer) Fitted() bool { return s.generator != nil }

// State returns the terminal training state of the last successful fit.
func (s *Synthesizer) State() State { return s.state }

// Losses returns the ordered per-epoch losses.
func (s *Synthesizer) Losses() []EpochLoss { return s.losses }

// Transformer returns the fitted transformer, nil before Fit.
func (s *Synthesizer) Transformer() *transform.Transformer { return s.transformer }

// Frequencies returns the fitted category frequency snapshot, nil before Fit.
func (s *Synthesizer) Frequencies() *sampler.FrequencyTable { return s.freq }

// FittedAt returns when Fit completed.
func (s *Synthesizer) FittedAt() time.Time { return s.fittedAt }

// prepared bundles the fit-time artifacts ahead of training.
type prepared struct {
	transformer *transform.Transformer
	sampler     *sampler.Sampler
	trainer     *Trainer
}

func (s *Synthesizer) prepare(t *table.Table, schema *table.Schema) (*prepared, error) {
	rng := rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed^0x9e3779b97f4a7c15))

	opts := transform.Options{
		Modes: transform.ModeOptions{
			MaxModes:        s.cfg.MaxClusters,
			WeightThreshold: s.cfg.WeightThreshold,
			VGM:             vgm.Options{},
		},
		ClipMinMax: s.cfg.ClipMinMax,
	}
	tr, err := transform.Fit(t, schema, opts, rng)
	if err != nil {
		return nil, err
	}
	data, err := tr.Encode(t)
	if err != nil {
		return nil, err
	}
	smp := sampler.New(data, tr.Blocks(), rng)
	rows, width := data.Dims()
	trainer := newTrainer(s.cfg, smp, tr.Spans(), rows, width, rng, s.logger)
	trainer.lossHook = s.lossHook
	return &prepared{transformer: tr, sampler: smp, trainer: trainer}, nil
}

// Fit fits the transformer and trains the networks. On any error the synthesizer is
// left as it was before the call.
func (s *Synthesizer) Fit(ctx context.Context, t *table.Table, schema *table.Schema) error {
	start := time.Now()
	s.logger.Info("fit started",
		zap.Int("rows", t.NumRows()),
		zap.Int("columns", len(t.Header)),
		zap.Int("epochs", s.cfg.Epochs),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("pac", s.cfg.Pac),
	)

	p, err := s.prepare(t, schema)
	if err != nil {
		return err
	}
	s.logger.Debug("transformer fitted",
		zap.Int("width", p.transformer.Width()),
		zap.Int("cond_width", p.sampler.Frequencies().CondWidth()),
	)
	if err := p.trainer.Run(ctx); err != nil {
		return err
	}

	s.transformer = p.transformer
	s.freq = p.sampler.Frequencies()
	s.generator = p.trainer.Generator()
	s.losses = p.trainer.Losses()
	s.state = p.trainer.State()
	s.fittedAt = time.Now().UTC()

	s.logger.Info("fit complete",
		zap.String("state", s.state.String()),
		zap.Int("epochs", len(s.losses)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// SampleOptions controls Sample.
type SampleOptions struct {
	// Conditions maps discrete column names to the value every returned row must hold.
	Conditions map[string]string
	// MaxRetries is the number of batches allowed beyond the minimum needed for the
	// requested rows. Zero means the default of 100.
	MaxRetries int
	// BestEffort returns the rows gathered so far instead of failing when retries run out.
	BestEffort bool
	// Seed seeds the sampling random source.
	Seed uint64
}

// DefaultMaxRetries is the retry budget used when SampleOptions.MaxRetries is zero.
const DefaultMaxRetries = 100

// SampleResult is a sampled table.
type SampleResult struct {
	Table   *table.Table
	Partial bool
	Batches int
}

// condition is a resolved sampling condition.
type condition struct {
	column string
	index  int // position in the table header
	col    int // discrete column in the frequency table
	cat    int
	value  string
}

// Sample generates n rows. With conditions, rows that do not satisfy all of them are
// rejected; the first condition in column order also drives the conditional vector.
func (s *Synthesizer) Sample(ctx context.Context, n int, opts SampleOptions) (*SampleResult, error) {
	if !s.Fitted() {
		return nil, errors.NewUnfittedModel()
	}
	if n <= 0 {
		return nil, errors.NewInvalidRequest("number of rows must be positive")
	}
	conds, err := s.resolveConditions(opts.Conditions)
	if err != nil {
		return nil, err
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}

	rng := rand.New(rand.NewPCG(opts.Seed, s.cfg.Seed))
	batch := s.cfg.BatchSize
	budget := (n+batch-1)/batch + retries

	out := table.New(s.transformer.Schema().Names())
	batches := 0
	for out.NumRows() < n && batches < budget {
		if batches > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rows, err := s.sampleBatch(batch, conds, rng)
		if err != nil {
			return nil, err
		}
		batches++
		for _, row := range rows.Rows {
			if out.NumRows() == n {
				break
			}
			if matches(row, conds) {
				out.Rows = append(out.Rows, row)
			}
		}
	}

	res := &SampleResult{Table: out, Batches: batches}
	if out.NumRows() < n {
		if !opts.BestEffort {
			return nil, errors.NewRetryBudgetExceeded(retries, out.NumRows(), n)
		}
		res.Partial = true
		s.logger.Warn("sample incomplete",
			zap.Int("requested", n),
			zap.Int("produced", out.NumRows()),
			zap.Int("batches", batches),
		)
	}

	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:8], opts.Seed)
	binary.LittleEndian.PutUint64(seed[8:16], s.cfg.Seed)
	if err := s.transformer.AssignIDs(out, ulid.Monotonic(rand.NewChaCha8(seed), 0)); err != nil {
		return nil, err
	}

	s.logger.Info("sample complete", zap.Int("rows", out.NumRows()), zap.Int("batches", batches), zap.Bool("partial", res.Partial))
	return res, nil
}

// sampleBatch generates and decodes one batch.
func (s *Synthesizer) sampleBatch(batch int, conds []condition, rng *rand.Rand) (*table.Table, error) {
	z := make([]float64, batch*s.cfg.EmbeddingDim)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	in := tensor.New(batch, s.cfg.EmbeddingDim, z)

	var cv *sampler.Condvec
	if len(conds) > 0 {
		var err error
		cv, err = s.freq.FixedCondvec(conds[0].col, conds[0].cat, batch)
		if err != nil {
			return nil, err
		}
	} else {
		cv = s.freq.OriginalCondvec(batch, rng)
	}
	if cv != nil {
		in = tensor.ConcatCols(in, cv.Tensor())
	}

	raw := s.generator.Forward(in, nn.Eval)
	act := activate(raw, s.transformer.Spans(), nn.Eval, s.cfg.Tau, rng)
	return s.transformer.Decode(mat.NewDense(act.Rows, act.Cols, act.Data))
}

func (s *Synthesizer) resolveConditions(given map[string]string) ([]condition, error) {
	if len(given) == 0 {
		return nil, nil
	}
	for name := range given {
		if _, ok := s.transformer.Column(name); !ok {
			return nil, errors.NewSchemaMismatch(name, "condition on unknown column")
		}
	}
	var conds []condition
	for i, c := range s.transformer.Columns {
		value, ok := given[c.Spec.Name]
		if !ok {
			continue
		}
		if c.Kind() != table.KindDiscrete {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("column %q is not discrete; conditions apply to discrete columns only", c.Spec.Name))
		}
		cat, ok := c.Category(value)
		if !ok {
			return nil, errors.NewEmptyCategory(c.Spec.Name, value)
		}
		if value == transform.NullCategory {
			value = table.Missing
		}
		col, _ := s.freq.Lookup(c.Spec.Name)
		conds = append(conds, condition{column: c.Spec.Name, index: i, col: col, cat: cat, value: value})
	}
	return conds, nil
}

func matches(row []string, conds []condition) bool {
	for _, c := range conds {
		if row[c.index] != c.value {
			return false
		}
	}
	return true
}
