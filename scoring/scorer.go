// Package scoring computes the 0-100 priority score and discrete level for
// a triggered exception: impact, urgency, amount band, and customer tier,
// combined by configurable weights.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/hjscm/alertengine/alert"
)

// Level is the discrete priority band derived from the score.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
)

// Band thresholds.
const (
	criticalThreshold = 85
	highThreshold     = 65
	mediumThreshold   = 40
)

// Weights combine the four factors. They must sum to 1.0.
type Weights struct {
	Impact   float64 `yaml:"impact"`
	Urgency  float64 `yaml:"urgency"`
	Amount   float64 `yaml:"amount"`
	Customer float64 `yaml:"customer"`
}

// DefaultWeights is the production default weighting.
func DefaultWeights() Weights {
	return Weights{Impact: 0.30, Urgency: 0.30, Amount: 0.25, Customer: 0.15}
}

// Validate checks the weights at startup.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"impact": w.Impact, "urgency": w.Urgency, "amount": w.Amount, "customer": w.Customer,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("scoring weight %s must be in [0,1], got %g", name, v)
		}
	}
	sum := w.Impact + w.Urgency + w.Amount + w.Customer
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %g", sum)
	}
	return nil
}

// Input is everything the score depends on. Score is a pure function of
// Input, so identical inputs always produce identical results.
type Input struct {
	// Amount is the currency impact; zero when unknown.
	Amount float64
	// SLADeadline is when the exception breaches; Now is the evaluation
	// instant. Urgency grows as the window shrinks.
	SLADeadline time.Time
	SLAWindow   time.Duration
	Now         time.Time
	// CustomerTier is A, B, or C; empty defaults below C.
	CustomerTier string
	// PriorityBase floors the resulting level.
	PriorityBase alert.Priority
}

// Scorer computes scores with a fixed weight configuration.
type Scorer struct {
	weights Weights
}

// New creates a scorer, validating the weights.
func New(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Score returns the 0-100 score and its level. The rule's priorityBase
// acts as a floor: the final level is never lower than the base implies.
func (s *Scorer) Score(in Input) (float64, Level) {
	raw := s.weights.Impact*impactFactor(in.Amount) +
		s.weights.Urgency*urgencyFactor(in.SLADeadline, in.SLAWindow, in.Now) +
		s.weights.Amount*amountBand(in.Amount) +
		s.weights.Customer*customerTierWeight(in.CustomerTier)

	score := clamp(raw, 0, 1) * 100
	score = math.Round(score*100) / 100

	level := levelFor(score)
	if floor := baseLevel(in.PriorityBase); levelRank(floor) > levelRank(level) {
		level = floor
	}
	return score, level
}

// impactFactor is log-scaled by currency amount: 0 at zero impact,
// saturating at 100M.
func impactFactor(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	return clamp(math.Log10(1+amount)/8, 0, 1)
}

// urgencyFactor is the inverse of the remaining time-to-SLA: 1.0 at or
// past the deadline, falling linearly to 0 at a full window of slack.
func urgencyFactor(deadline time.Time, window time.Duration, now time.Time) float64 {
	if deadline.IsZero() {
		return 0
	}
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 1
	}
	if window <= 0 {
		return 0
	}
	return clamp(1-float64(remaining)/float64(window), 0, 1)
}

// amountBand applies the banded thresholds used for amount normalization.
func amountBand(amount float64) float64 {
	switch {
	case amount <= 0:
		return 0
	case amount > 100000:
		return 1.0
	case amount > 50000:
		return 0.85
	case amount > 10000:
		return 0.70
	case amount > 5000:
		return 0.55
	default:
		return 0.40
	}
}

func customerTierWeight(tier string) float64 {
	switch tier {
	case "A":
		return 1.0
	case "B":
		return 0.6
	case "C":
		return 0.3
	default:
		return 0.3
	}
}

func levelFor(score float64) Level {
	switch {
	case score >= criticalThreshold:
		return LevelCritical
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func baseLevel(p alert.Priority) Level {
	switch p {
	case alert.PriorityP0:
		return LevelCritical
	case alert.PriorityP1:
		return LevelHigh
	case alert.PriorityP2:
		return LevelMedium
	default:
		return LevelLow
	}
}

func levelRank(l Level) int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
