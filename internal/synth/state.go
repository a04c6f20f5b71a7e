package synth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/nn"
	"github.com/hpungsan/tabsynth/internal/sampler"
	"github.com/hpungsan/tabsynth/internal/transform"
)

// stateVersion is bumped whenever the persisted layout changes incompatibly.
const stateVersion = 1

// modelState is everything a fitted synthesizer needs to sample again.
type modelState struct {
	Version     int                     `json:"version"`
	Config      Config                  `json:"config"`
	Transformer *transform.Transformer  `json:"transformer"`
	Frequencies *sampler.FrequencyTable `json:"frequencies"`
	Generator   nn.GeneratorState       `json:"generator"`
	Losses      []EpochLoss             `json:"losses"`
	State       string                  `json:"state"`
	FittedAt    time.Time               `json:"fitted_at"`
}

// MarshalBinary encodes a fitted synthesizer as zstd-compressed JSON.
func (s *Synthesizer) MarshalBinary() ([]byte, error) {
	if !s.Fitted() {
		return nil, errors.NewUnfittedModel()
	}
	raw, err := json.Marshal(modelState{
		Version:     stateVersion,
		Config:      s.cfg,
		Transformer: s.transformer,
		Frequencies: s.freq,
		Generator:   s.generator.State(),
		Losses:      s.losses,
		State:       s.state.String(),
		FittedAt:    s.fittedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal model state: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// Load restores a synthesizer encoded by MarshalBinary.
func Load(data []byte, opts ...Option) (*Synthesizer, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress model state: %w", err)
	}

	var st modelState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal model state: %w", err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("unsupported model state version %d", st.Version)
	}
	if st.Transformer == nil || st.Frequencies == nil {
		return nil, fmt.Errorf("model state is incomplete")
	}
	gen, err := nn.GeneratorFromState(st.Generator)
	if err != nil {
		return nil, fmt.Errorf("restore generator: %w", err)
	}

	s := &Synthesizer{
		cfg:         st.Config,
		logger:      zap.NewNop(),
		transformer: st.Transformer,
		freq:        st.Frequencies,
		generator:   gen,
		losses:      st.Losses,
		state:       parseState(st.State),
		fittedAt:    st.FittedAt,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func parseState(name string) State {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return Initializing
}
