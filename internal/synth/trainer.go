package synth

import (
	"context"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/nn"
	"github.com/hpungsan/tabsynth/internal/sampler"
	"github.com/hpungsan/tabsynth/internal/tensor"
	"github.com/hpungsan/tabsynth/internal/transform"
)

// State is a training state.
type State int

const (
	Initializing State = iota
	CriticStep
	GeneratorStep
	Converged
	StepLimitReached
	Aborted
)

var stateNames = map[State]string{
	Initializing:     "initializing",
	CriticStep:       "critic_step",
	GeneratorStep:    "generator_step",
	Converged:        "converged",
	StepLimitReached: "step_limit_reached",
	Aborted:          "aborted",
}

// String returns the state name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == Converged || s == StepLimitReached || s == Aborted
}

// EpochLoss holds the losses of the last step of one epoch.
type EpochLoss struct {
	Epoch             int     `json:"epoch"`
	GeneratorLoss     float64 `json:"generator_loss"`
	DiscriminatorLoss float64 `json:"discriminator_loss"`
}

// Trainer runs the adversarial training state machine. One outer iteration is
// DiscriminatorSteps critic updates followed by one generator update.
type Trainer struct {
	cfg     Config
	gen     *nn.Generator
	dis     *nn.Discriminator
	optG    *nn.Adam
	optD    *nn.Adam
	sampler *sampler.Sampler
	spans   []transform.Span
	rng     *rand.Rand
	logger  *zap.Logger

	state         State
	epoch         int // current epoch, 0-based
	step          int // completed outer iterations in the current epoch
	criticSteps   int // critic updates in the current outer iteration
	totalSteps    int
	stepsPerEpoch int

	lastG, lastD float64
	losses       []EpochLoss
	snapGen      nn.Snapshot
	snapDis      nn.Snapshot

	// lossHook lets tests tamper with a loss before it is checked and applied.
	lossHook func(stage string, loss float64) float64
}

func newTrainer(cfg Config, s *sampler.Sampler, spans []transform.Span, rows, width int, rng *rand.Rand, logger *zap.Logger) *Trainer {
	condWidth := s.Frequencies().CondWidth()
	gen := nn.NewGenerator(cfg.EmbeddingDim+condWidth, cfg.GeneratorDim, width, rng)
	dis := nn.NewDiscriminator(width+condWidth, cfg.DiscriminatorDim, cfg.Pac, rng)
	return &Trainer{
		cfg:           cfg,
		gen:           gen,
		dis:           dis,
		optG:          nn.NewAdam(gen.Params(), cfg.GeneratorLR, 0.5, 0.9, cfg.GeneratorDecay),
		optD:          nn.NewAdam(dis.Params(), cfg.DiscriminatorLR, 0.5, 0.9, cfg.DiscriminatorDecay),
		sampler:       s,
		spans:         spans,
		rng:           rng,
		logger:        logger,
		stepsPerEpoch: max(rows/cfg.BatchSize, 1),
	}
}

// State returns the current state.
func (t *Trainer) State() State { return t.state }

// Losses returns the per-epoch losses recorded so far.
func (t *Trainer) Losses() []EpochLoss { return t.losses }

// Generator returns the generator being trained.
func (t *Trainer) Generator() *nn.Generator { return t.gen }

// Run advances the state machine until a terminal state. The context is checked at
// epoch boundaries only.
func (t *Trainer) Run(ctx context.Context) error {
	for !t.state.Terminal() {
		if err := t.advance(ctx); err != nil {
			return err
		}
	}
	return nil
}

// advance performs one transition.
func (t *Trainer) advance(ctx context.Context) error {
	switch t.state {
	case Initializing:
		t.beginEpoch()
		t.state = CriticStep

	case CriticStep:
		if err := t.criticStep(); err != nil {
			return t.abort(err)
		}
		t.criticSteps++
		if t.criticSteps == t.cfg.DiscriminatorSteps {
			t.state = GeneratorStep
		}

	case GeneratorStep:
		if err := t.generatorStep(); err != nil {
			return t.abort(err)
		}
		t.criticSteps = 0
		t.step++
		t.totalSteps++

		if t.cfg.MaxSteps > 0 && t.totalSteps >= t.cfg.MaxSteps {
			t.endEpoch()
			t.state = StepLimitReached
			t.logger.Info("step limit reached", zap.Int("steps", t.totalSteps))
			return nil
		}
		if t.step < t.stepsPerEpoch {
			t.state = CriticStep
			return nil
		}

		t.endEpoch()
		t.epoch++
		if t.epoch == t.cfg.Epochs {
			t.state = Converged
			return nil
		}
		if err := ctx.Err(); err != nil {
			t.state = Aborted
			t.logger.Warn("training cancelled", zap.Int("epoch", t.epoch), zap.Error(err))
			return err
		}
		t.beginEpoch()
		t.state = CriticStep
	}
	return nil
}

func (t *Trainer) beginEpoch() {
	t.step = 0
	t.snapGen = nn.Capture(t.gen)
	t.snapDis = nn.Capture(t.dis)
}

func (t *Trainer) endEpoch() {
	t.losses = append(t.losses, EpochLoss{Epoch: t.epoch, GeneratorLoss: t.lastG, DiscriminatorLoss: t.lastD})
	t.logger.Info("epoch complete",
		zap.Int("epoch", t.epoch),
		zap.Float64("generator_loss", t.lastG),
		zap.Float64("discriminator_loss", t.lastD),
	)
}

// abort restores the parameters captured at the start of the epoch.
func (t *Trainer) abort(err error) error {
	t.state = Aborted
	if rerr := nn.Restore(t.gen, t.snapGen); rerr != nil {
		return errors.NewInternal(rerr)
	}
	if rerr := nn.Restore(t.dis, t.snapDis); rerr != nil {
		return errors.NewInternal(rerr)
	}
	t.logger.Error("training aborted", zap.Int("epoch", t.epoch), zap.Int("step", t.step), zap.Error(err))
	return err
}

// check applies the hook and rejects non-finite losses.
func (t *Trainer) check(stage string, v float64) (float64, error) {
	if t.lossHook != nil {
		v = t.lossHook(stage, v)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, errors.NewNonFiniteLoss(stage, t.epoch, t.totalSteps, v)
	}
	return v, nil
}

func (t *Trainer) noise() *tensor.Tensor {
	n := t.cfg.BatchSize * t.cfg.EmbeddingDim
	z := make([]float64, n)
	for i := range z {
		z[i] = t.rng.NormFloat64()
	}
	return tensor.New(t.cfg.BatchSize, t.cfg.EmbeddingDim, z)
}

// generate runs the generator on noise conditioned on cv and returns raw logits and
// activated rows.
func (t *Trainer) generate(cv *sampler.Condvec) (*tensor.Tensor, *tensor.Tensor) {
	in := t.noise()
	if cv != nil {
		in = tensor.ConcatCols(in, cv.Tensor())
	}
	raw := t.gen.Forward(in, nn.Train)
	return raw, activate(raw, t.spans, nn.Train, t.cfg.Tau, t.rng)
}

func withCond(x *tensor.Tensor, cv *sampler.Condvec) *tensor.Tensor {
	if cv == nil {
		return x
	}
	return tensor.ConcatCols(x, cv.Tensor())
}

// criticStep updates the critic on one real/fake batch. Real rows are drawn for a
// shuffled copy of the conditions given to the generator.
func (t *Trainer) criticStep() error {
	b := t.cfg.BatchSize
	c1 := t.sampler.SampleCondvec(b)
	c2 := c1
	if c1 != nil {
		c2 = c1.Permute(t.rng.Perm(b))
	}
	realRows, err := t.sampler.SampleData(b, c2)
	if err != nil {
		return err
	}
	_, fake := t.generate(c1)

	fakeCat := withCond(fake.Detach(), c1)
	realCat := withCond(realRows, c2)

	yFake := t.dis.Forward(fakeCat, nn.Train, t.rng)
	yReal := t.dis.Forward(realCat, nn.Train, t.rng)
	pen := t.dis.GradientPenalty(realCat, fakeCat, t.cfg.GradientPenalty, t.rng)
	lossD := tensor.Sub(tensor.Mean(yFake), tensor.Mean(yReal))

	v, err := t.check("discriminator", lossD.Item())
	if err != nil {
		return err
	}
	if _, err := t.check("gradient_penalty", pen.Item()); err != nil {
		return err
	}

	t.optD.ZeroGrad()
	tensor.Backward(tensor.Add(lossD, pen))
	t.optD.Step()
	t.lastD = v
	return nil
}

// generatorStep updates the generator against the critic plus the conditional loss.
func (t *Trainer) generatorStep() error {
	cv := t.sampler.SampleCondvec(t.cfg.BatchSize)
	raw, fake := t.generate(cv)
	yFake := t.dis.Forward(withCond(fake, cv), nn.Train, t.rng)
	cond := sampler.ConditionalLoss(raw, cv, t.sampler.Frequencies())
	lossG := tensor.Add(tensor.Scale(tensor.Mean(yFake), -1), cond)

	v, err := t.check("generator", lossG.Item())
	if err != nil {
		return err
	}

	t.optG.ZeroGrad()
	tensor.Backward(lossG)
	t.optG.Step()
	t.lastG = v
	return nil
}
