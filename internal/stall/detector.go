// File: internal/stall/detector.go

// Package stall decides whether an attempt is still making progress.
// Progress is defined structurally: at least one action of the iteration
// succeeded and the page fingerprint moved. Model optimism has no vote here.
package stall

import (
	"go.uber.org/zap"

	"github.com/applyloop/applyloop/internal/config"
)

// Verdict is the detector's reading after one iteration.
type Verdict int

const (
	// Progressing means the page changed; keep planning on the fast tier.
	Progressing Verdict = iota
	// Stalled means enough consecutive iterations without change to warrant
	// the recovery tier.
	Stalled
	// GiveUp means the attempt has exhausted its budget and must end.
	GiveUp
)

func (v Verdict) String() string {
	switch v {
	case Progressing:
		return "progressing"
	case Stalled:
		return "stalled"
	case GiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Detector tracks consecutive no-progress iterations for a single attempt.
// Not safe for concurrent use; each loop owns its own detector.
type Detector struct {
	cfg             config.LoopConfig
	logger          *zap.Logger
	lastFingerprint string
	streak          int
}

// NewDetector creates a detector with its baseline set to the fingerprint of
// the first snapshot of the attempt.
func NewDetector(initialFingerprint string, cfg config.LoopConfig, logger *zap.Logger) *Detector {
	return &Detector{
		cfg:             cfg,
		logger:          logger.Named("stall"),
		lastFingerprint: initialFingerprint,
	}
}

// Observe ingests one iteration: whether any of its actions succeeded, the
// post-iteration fingerprint, and the 1-based iteration count. Progress needs
// both a successful action and a fingerprint change; the baseline fingerprint
// only advances on progress. The stalled verdict fires exactly when the
// streak reaches the stall threshold, the give-up verdict when it reaches the
// give-up threshold or the iteration cap is hit.
func (d *Detector) Observe(anySuccess bool, postFingerprint string, iteration int) Verdict {
	if anySuccess && postFingerprint != d.lastFingerprint {
		d.lastFingerprint = postFingerprint
		d.streak = 0
	} else {
		d.streak++
	}

	verdict := Progressing
	switch {
	case d.cfg.MaxIterations > 0 && iteration >= d.cfg.MaxIterations:
		verdict = GiveUp
	case d.streak >= d.cfg.GiveUpThreshold:
		verdict = GiveUp
	case d.streak >= d.cfg.StallThreshold:
		verdict = Stalled
	}

	if verdict != Progressing {
		d.logger.Warn("Attempt is not progressing",
			zap.String("verdict", verdict.String()),
			zap.Int("streak", d.streak),
			zap.Int("iteration", iteration),
		)
	}
	return verdict
}

// Streak returns the current count of consecutive no-progress iterations.
func (d *Detector) Streak() int { return d.streak }
