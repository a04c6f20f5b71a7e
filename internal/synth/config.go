package synth

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hpungsan/tabsynth/internal/errors"
)

// Config holds the training hyperparameters.
type Config struct {
	Epochs             int     `json:"epochs" validate:"gt=0"`
	BatchSize          int     `json:"batch_size" validate:"gt=0"`
	Pac                int     `json:"pac" validate:"gte=1"`
	DiscriminatorSteps int     `json:"discriminator_steps" validate:"gte=1"`
	EmbeddingDim       int     `json:"embedding_dim" validate:"gt=0"`
	GeneratorDim       []int   `json:"generator_dim" validate:"min=1,dive,gt=0"`
	DiscriminatorDim   []int   `json:"discriminator_dim" validate:"min=1,dive,gt=0"`
	GeneratorLR        float64 `json:"generator_lr" validate:"gt=0"`
	GeneratorDecay     float64 `json:"generator_decay" validate:"gte=0"`
	DiscriminatorLR    float64 `json:"discriminator_lr" validate:"gt=0"`
	DiscriminatorDecay float64 `json:"discriminator_decay" validate:"gte=0"`
	GradientPenalty    float64 `json:"gradient_penalty" validate:"gte=0"`
	Tau                float64 `json:"tau" validate:"gt=0"`
	MaxClusters        int     `json:"max_clusters" validate:"gte=1,lte=10"`
	WeightThreshold    float64 `json:"weight_threshold" validate:"gte=0,lt=1"`
	ClipMinMax         bool    `json:"clip_min_max"`
	Seed               uint64  `json:"seed"`
	MaxSteps           int     `json:"max_steps,omitempty" validate:"gte=0"`
}

// DefaultConfig returns the standard hyperparameters.
func DefaultConfig() Config {
	return Config{
		Epochs:             300,
		BatchSize:          500,
		Pac:                10,
		DiscriminatorSteps: 5,
		EmbeddingDim:       128,
		GeneratorDim:       []int{256, 256},
		DiscriminatorDim:   []int{256, 256},
		GeneratorLR:        2e-4,
		GeneratorDecay:     1e-6,
		DiscriminatorLR:    2e-4,
		DiscriminatorDecay: 1e-6,
		GradientPenalty:    10,
		Tau:                0.2,
		MaxClusters:        10,
		WeightThreshold:    0.005,
		ClipMinMax:         true,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field and the PacGAN constraint batch_size % pac == 0.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			msg := fmt.Sprintf("failed %q", fe.Tag())
			if fe.Param() != "" {
				msg = fmt.Sprintf("must satisfy %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value())
			}
			return errors.NewInvalidConfig(fe.Field(), msg)
		}
		return errors.NewInvalidConfig("", err.Error())
	}
	if c.BatchSize%c.Pac != 0 {
		return errors.NewInvalidConfig("batch_size", fmt.Sprintf("batch_size %d is not divisible by pac %d", c.BatchSize, c.Pac))
	}
	return nil
}
