package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/nn"
	"github.com/hpungsan/tabsynth/internal/table"
	"github.com/hpungsan/tabsynth/internal/tensor"
	"github.com/hpungsan/tabsynth/internal/transform"
)

// smallConfig trains quickly on a few hundred rows.
func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Epochs = 2
	cfg.BatchSize = 100
	cfg.Pac = 10
	cfg.DiscriminatorSteps = 1
	cfg.EmbeddingDim = 8
	cfg.GeneratorDim = []int{16}
	cfg.DiscriminatorDim = []int{16}
	cfg.Seed = 42
	return cfg
}

// tieredTable returns 500 rows with a 90/9/1 tier split and tier-dependent amounts.
func tieredTable(t *testing.T) (*table.Table, *table.Schema) {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	tbl := table.New([]string{"amount", "tier"})
	var rows [][]string
	add := func(tier string, n int, mean, std float64) {
		for i := 0; i < n; i++ {
			v := math.Abs(mean + std*rng.NormFloat64())
			rows = append(rows, []string{strconv.FormatFloat(v, 'f', 2, 64), tier})
		}
	}
	add("A", 450, 50, 10)
	add("B", 45, 200, 20)
	add("C", 5, 1000, 50)
	rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	require.NoError(t, tbl.Append(rows...))

	schema := &table.Schema{Columns: []table.ColumnSpec{
		{Name: "amount", SDType: table.Numerical},
		{Name: "tier", SDType: table.Categorical},
	}}
	return tbl, schema
}

func fitSmall(t *testing.T, cfg Config, opts ...Option) *Synthesizer {
	t.Helper()
	tbl, schema := tieredTable(t)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Fit(context.Background(), tbl, schema))
	return s
}

// forceTier biases the generator's tier logits so every sampled row is tier A.
func forceTier(t *testing.T, s *Synthesizer) {
	t.Helper()
	col, ok := s.Transformer().Column("tier")
	require.True(t, ok)
	for k := 0; k < col.Width; k++ {
		s.generator.Out.B.Data[col.Offset+k] = -100
	}
	s.generator.Out.B.Data[col.Offset] = 100
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"zero epochs", func(c *Config) { c.Epochs = 0 }, "epochs"},
		{"pac zero", func(c *Config) { c.Pac = 0 }, "pac"},
		{"empty generator", func(c *Config) { c.GeneratorDim = nil }, "generator_dim"},
		{"negative layer", func(c *Config) { c.DiscriminatorDim = []int{8, -1} }, "discriminator_dim[1]"},
		{"too many clusters", func(c *Config) { c.MaxClusters = 11 }, "max_clusters"},
		{"pac divisibility", func(c *Config) { c.BatchSize = 25 }, "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			sErr, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrInvalidConfig, sErr.Code)
			assert.Equal(t, tt.field, sErr.Details["field"])
		})
	}
	require.NoError(t, DefaultConfig().Validate())
}

func TestNew_PacDivisibilityFailsFast(t *testing.T) {
	cfg := smallConfig()
	cfg.BatchSize = 105

	s, err := New(cfg)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestFit_EndToEnd(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := fitSmall(t, smallConfig(), WithLogger(zap.New(core)))

	assert.True(t, s.Fitted())
	assert.Equal(t, Converged, s.State())
	require.Len(t, s.Losses(), 2)
	for i, l := range s.Losses() {
		assert.Equal(t, i, l.Epoch)
		assert.False(t, math.IsNaN(l.GeneratorLoss))
		assert.False(t, math.IsNaN(l.DiscriminatorLoss))
	}
	epochLogs := logs.FilterMessage("epoch complete")
	require.Equal(t, 2, epochLogs.Len())
	assert.Contains(t, epochLogs.All()[0].ContextMap(), "generator_loss")

	tbl, _ := tieredTable(t)
	amounts, _ := tbl.Column("amount")
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, a := range amounts {
		v, err := strconv.ParseFloat(a, 64)
		require.NoError(t, err)
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}

	res, err := s.Sample(context.Background(), 500, SampleOptions{Seed: 7})
	require.NoError(t, err)
	require.False(t, res.Partial)
	require.Equal(t, 500, res.Table.NumRows())
	require.Equal(t, []string{"amount", "tier"}, res.Table.Header)
	for _, row := range res.Table.Rows {
		assert.Contains(t, []string{"A", "B", "C"}, row[1])
		v, err := strconv.ParseFloat(row[0], 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, lo)
		assert.LessOrEqual(t, v, hi)
	}
	assert.Equal(t, 1, logs.FilterMessage("sample complete").Len())
}

func TestSample_Deterministic(t *testing.T) {
	s := fitSmall(t, smallConfig())
	a, err := s.Sample(context.Background(), 120, SampleOptions{Seed: 3})
	require.NoError(t, err)
	b, err := s.Sample(context.Background(), 120, SampleOptions{Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, a.Table.Rows, b.Table.Rows)
	assert.Equal(t, 2, a.Batches)
}

func TestSample_Unfitted(t *testing.T) {
	s, err := New(smallConfig())
	require.NoError(t, err)
	_, err = s.Sample(context.Background(), 10, SampleOptions{})
	assert.True(t, errors.Is(err, errors.ErrUnfittedModel))

	_, err = s.MarshalBinary()
	assert.True(t, errors.Is(err, errors.ErrUnfittedModel))
}

func TestSample_Conditions(t *testing.T) {
	s := fitSmall(t, smallConfig())
	forceTier(t, s)

	t.Run("satisfiable", func(t *testing.T) {
		res, err := s.Sample(context.Background(), 50, SampleOptions{Conditions: map[string]string{"tier": "A"}})
		require.NoError(t, err)
		require.Equal(t, 50, res.Table.NumRows())
		for _, row := range res.Table.Rows {
			assert.Equal(t, "A", row[1])
		}
	})

	t.Run("retry budget exceeded", func(t *testing.T) {
		_, err := s.Sample(context.Background(), 10, SampleOptions{
			Conditions: map[string]string{"tier": "B"},
			MaxRetries: 2,
		})
		require.Error(t, err)
		sErr, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.ErrRetryBudgetExceeded, sErr.Code)
		assert.Equal(t, 2, sErr.Details["max_retries"])
		assert.Equal(t, 0, sErr.Details["produced"])
	})

	t.Run("best effort", func(t *testing.T) {
		res, err := s.Sample(context.Background(), 10, SampleOptions{
			Conditions: map[string]string{"tier": "B"},
			MaxRetries: 2,
			BestEffort: true,
		})
		require.NoError(t, err)
		assert.True(t, res.Partial)
		assert.Equal(t, 0, res.Table.NumRows())
		assert.Equal(t, 3, res.Batches)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := s.Sample(context.Background(), 10, SampleOptions{Conditions: map[string]string{"nope": "A"}})
		assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))

		_, err = s.Sample(context.Background(), 10, SampleOptions{Conditions: map[string]string{"amount": "1"}})
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

		_, err = s.Sample(context.Background(), 10, SampleOptions{Conditions: map[string]string{"tier": "Z"}})
		assert.True(t, errors.Is(err, errors.ErrEmptyCategory))

		_, err = s.Sample(context.Background(), 0, SampleOptions{})
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	})
}

func TestTrainer_NonFiniteLossRestoresPriorEpoch(t *testing.T) {
	tbl, schema := tieredTable(t)

	// Reference: the parameters after exactly one epoch.
	one := smallConfig()
	one.Epochs = 1
	ref, err := New(one)
	require.NoError(t, err)
	p, err := ref.prepare(tbl, schema)
	require.NoError(t, err)
	require.NoError(t, p.trainer.Run(context.Background()))
	want := nn.Capture(p.trainer.gen)
	wantDis := nn.Capture(p.trainer.dis)

	three := smallConfig()
	three.Epochs = 3
	s, err := New(three)
	require.NoError(t, err)
	p, err = s.prepare(tbl, schema)
	require.NoError(t, err)
	tr := p.trainer
	tr.lossHook = func(stage string, v float64) float64 {
		if stage == "discriminator" && tr.epoch == 1 && tr.step == 2 {
			return math.NaN()
		}
		return v
	}

	err = tr.Run(context.Background())
	require.Error(t, err)
	sErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrNonFiniteLoss, sErr.Code)
	assert.Equal(t, "discriminator", sErr.Details["stage"])
	assert.Equal(t, 1, sErr.Details["epoch"])
	assert.Equal(t, Aborted, tr.State())

	got := nn.Capture(tr.gen)
	assert.Equal(t, want.Params, got.Params)
	assert.Equal(t, want.Buffers, got.Buffers)
	assert.Equal(t, wantDis.Params, nn.Capture(tr.dis).Params)
	assert.Len(t, tr.Losses(), 1)
}

func TestFit_NonFiniteLeavesUnfitted(t *testing.T) {
	tbl, schema := tieredTable(t)
	core, logs := observer.New(zapcore.InfoLevel)
	s, err := New(smallConfig(), WithLogger(zap.New(core)))
	require.NoError(t, err)
	s.lossHook = func(stage string, v float64) float64 {
		if stage == "generator" {
			return math.Inf(1)
		}
		return v
	}

	err = s.Fit(context.Background(), tbl, schema)
	assert.True(t, errors.Is(err, errors.ErrNonFiniteLoss))
	assert.False(t, s.Fitted())
	assert.Nil(t, s.Transformer())
	assert.Equal(t, 1, logs.FilterMessage("training aborted").Len())
}

func TestFit_StepLimit(t *testing.T) {
	cfg := smallConfig()
	cfg.Epochs = 10
	cfg.MaxSteps = 3
	s := fitSmall(t, cfg)
	assert.Equal(t, StepLimitReached, s.State())
	assert.Len(t, s.Losses(), 1)
}

func TestFit_CancelledAtEpochBoundary(t *testing.T) {
	tbl, schema := tieredTable(t)
	cfg := smallConfig()
	cfg.Epochs = 5
	s, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Fit(ctx, tbl, schema)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.Fitted())
}

func TestFit_SchemaErrors(t *testing.T) {
	tbl, _ := tieredTable(t)
	s, err := New(smallConfig())
	require.NoError(t, err)

	schema := &table.Schema{Columns: []table.ColumnSpec{{Name: "amount", SDType: table.Numerical}}}
	err = s.Fit(context.Background(), tbl, schema)
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))
	assert.False(t, s.Fitted())
}

func TestMarshalLoad_RoundTrip(t *testing.T) {
	s := fitSmall(t, smallConfig())
	data, err := s.MarshalBinary()
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.True(t, loaded.Fitted())
	assert.Equal(t, s.Losses(), loaded.Losses())
	assert.Equal(t, s.State(), loaded.State())
	assert.Equal(t, s.Config(), loaded.Config())
	assert.Equal(t, s.Transformer().Width(), loaded.Transformer().Width())

	a, err := s.Sample(context.Background(), 100, SampleOptions{Seed: 11})
	require.NoError(t, err)
	b, err := loaded.Sample(context.Background(), 100, SampleOptions{Seed: 11})
	require.NoError(t, err)
	assert.Equal(t, a.Table.Rows, b.Table.Rows)

	_, err = Load([]byte("not zstd"))
	assert.Error(t, err)
}

func TestActivate(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	spans := []transform.Span{{Dim: 1, Activation: transform.Tanh}, {Dim: 3, Activation: transform.Softmax}}
	raw := tensor.New(2, 4, []float64{5, 1, 2, 3, -5, 0, 0, 9})

	soft := activate(raw, spans, nn.Train, 0.2, rng)
	for i := 0; i < 2; i++ {
		assert.Less(t, math.Abs(soft.At(i, 0)), 1.0)
		sum := soft.At(i, 1) + soft.At(i, 2) + soft.At(i, 3)
		assert.InDelta(t, 1, sum, 1e-9)
	}

	hard := activate(raw, spans, nn.Eval, 0.2, rng)
	assert.Equal(t, []float64{0, 0, 1}, hard.Row(1)[1:])
	ones := 0
	for _, v := range hard.Row(0)[1:] {
		if v == 1 {
			ones++
		}
	}
	assert.Equal(t, 1, ones)
}

func TestState_String(t *testing.T) {
	for s := Initializing; s <= Aborted; s++ {
		assert.NotEqual(t, "unknown", s.String(), fmt.Sprint(int(s)))
		assert.Equal(t, s, parseState(s.String()))
	}
	assert.True(t, Converged.Terminal())
	assert.False(t, CriticStep.Terminal())
}
