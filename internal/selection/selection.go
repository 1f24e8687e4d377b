// Package selection reduces a scored clip pool to a duration-bounded,
// chronologically ordered subset. It is pure: no I/O, deterministic for
// the same inputs.
package selection

import (
	"sort"

	"github.com/clipreel/api/internal/model"
)

// Composite score weights
const (
	relevanceWeight  = 0.7
	qualityWeight    = 0.2
	confidenceWeight = 0.1
)

// longClipPenalty discourages over-long segments without excluding them.
const longClipPenalty = 0.9

// DefaultLongClipSec is the duration above which the penalty applies.
const DefaultLongClipSec = 20.0

// Per-source threshold-lowering parameters (alternate mode)
const (
	perSourceStartThreshold = 0.8
	perSourceFloorThreshold = 0.5
	perSourceThresholdStep  = 0.05
)

// Constraints bound the total duration of a selection.
type Constraints struct {
	MinDurationSec float64
	MaxDurationSec float64
	LongClipSec    float64 // 0 means DefaultLongClipSec
}

// ScoredCandidate pairs a clip with its computed composite score. It
// exists only during a selection run and is never persisted.
type ScoredCandidate struct {
	Clip            model.Clip
	CompositeScore  float64
	DurationPenalty float64
}

// Selection is the chosen ordered sequence of clips.
type Selection struct {
	Clips            []model.Clip
	TotalDurationSec float64
}

// CompositeScore blends the clip's scores, applying the long-clip penalty
// when the clip exceeds longClipSec.
func CompositeScore(clip *model.Clip, longClipSec float64) (score, penalty float64) {
	if longClipSec <= 0 {
		longClipSec = DefaultLongClipSec
	}
	score = relevanceWeight*clip.Scores.Relevance +
		qualityWeight*clip.Scores.Quality +
		confidenceWeight*clip.Scores.Confidence
	penalty = 1.0
	if clip.DurationSec() > longClipSec {
		penalty = longClipPenalty
	}
	return score * penalty, penalty
}

// SelectMontage prunes the candidate pool down to the duration budget and
// returns the survivors in chronological order.
//
// Pruning runs in two phases, each stopping the instant the budget is met:
// phase A removes clips named by the redundancy hints (an externally
// supplied, priority-ordered index list; indices outside the pool and
// already-removed entries are ignored), then phase B removes the
// lowest-composite-score clip repeatedly. Neither phase removes the last
// remaining clip: a pool cannot be pruned into a worse answer than its
// single best member, even when that member alone exceeds the budget.
func SelectMontage(candidates []model.Clip, hints []int, c Constraints) Selection {
	if len(candidates) == 0 {
		return Selection{Clips: []model.Clip{}}
	}

	scored := make([]ScoredCandidate, len(candidates))
	total := 0.0
	for i := range candidates {
		score, penalty := CompositeScore(&candidates[i], c.LongClipSec)
		scored[i] = ScoredCandidate{
			Clip:            candidates[i],
			CompositeScore:  score,
			DurationPenalty: penalty,
		}
		total += candidates[i].DurationSec()
	}

	// Index bookkeeping over the immutable candidate slice: removal flags
	// instead of deleting while iterating.
	removed := make([]bool, len(candidates))
	remaining := len(candidates)

	if total > c.MaxDurationSec {
		// Phase A: redundancy pruning, hint order, never more than needed.
		for _, idx := range hints {
			if total <= c.MaxDurationSec || remaining <= 1 {
				break
			}
			if idx < 0 || idx >= len(candidates) || removed[idx] {
				continue
			}
			removed[idx] = true
			remaining--
			total -= candidates[idx].DurationSec()
		}

		// Phase B: score-floor pruning, lowest composite first.
		if total > c.MaxDurationSec {
			order := make([]int, 0, len(candidates))
			for i := range scored {
				if !removed[i] {
					order = append(order, i)
				}
			}
			sort.Slice(order, func(a, b int) bool {
				si, sj := scored[order[a]], scored[order[b]]
				if si.CompositeScore != sj.CompositeScore {
					return si.CompositeScore < sj.CompositeScore
				}
				return si.Clip.ID < sj.Clip.ID // stable tie-break
			})
			for _, idx := range order {
				if total <= c.MaxDurationSec || remaining <= 1 {
					break
				}
				removed[idx] = true
				remaining--
				total -= candidates[idx].DurationSec()
			}
		}
	}

	kept := make([]model.Clip, 0, remaining)
	for i := range candidates {
		if !removed[i] {
			kept = append(kept, candidates[i])
		}
	}

	return finishSelection(kept)
}

// SelectPerSource is the alternate selection mode for multi-source intent
// matching: at most one clip per source video, chosen by lowering a
// composite-score threshold from a high start until the minimum duration
// is reached or the floor threshold is hit. Each threshold attempt starts
// from scratch.
func SelectPerSource(candidates []model.Clip, c Constraints) Selection {
	if len(candidates) == 0 {
		return Selection{Clips: []model.Clip{}}
	}

	scored := make([]ScoredCandidate, len(candidates))
	for i := range candidates {
		score, penalty := CompositeScore(&candidates[i], c.LongClipSec)
		scored[i] = ScoredCandidate{
			Clip:            candidates[i],
			CompositeScore:  score,
			DurationPenalty: penalty,
		}
	}
	// Highest composite first so the per-source pick and the budget fill
	// both favor the strongest clips. Stable by id.
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].CompositeScore != scored[b].CompositeScore {
			return scored[a].CompositeScore > scored[b].CompositeScore
		}
		return scored[a].Clip.ID < scored[b].Clip.ID
	})

	// Thresholds are derived from the step index so repeated subtraction
	// does not drift past the floor.
	var best []model.Clip
	for step := 0; ; step++ {
		threshold := perSourceStartThreshold - float64(step)*perSourceThresholdStep
		picked := make([]model.Clip, 0, len(scored))
		seenSource := make(map[string]bool, len(scored))
		total := 0.0

		for i := range scored {
			if scored[i].CompositeScore < threshold {
				continue
			}
			src := scored[i].Clip.SourceID
			if seenSource[src] {
				continue
			}
			if total+scored[i].Clip.DurationSec() > c.MaxDurationSec {
				continue
			}
			seenSource[src] = true
			picked = append(picked, scored[i].Clip)
			total += scored[i].Clip.DurationSec()
		}

		best = picked
		if total >= c.MinDurationSec || threshold <= perSourceFloorThreshold+1e-9 {
			break
		}
	}

	return finishSelection(best)
}

// finishSelection orders clips chronologically by capture time so the
// montage reads as a timeline, not a leaderboard.
func finishSelection(clips []model.Clip) Selection {
	sort.Slice(clips, func(i, j int) bool {
		if !clips[i].CapturedAt.Equal(clips[j].CapturedAt) {
			return clips[i].CapturedAt.Before(clips[j].CapturedAt)
		}
		return clips[i].ID < clips[j].ID
	})

	total := 0.0
	for i := range clips {
		total += clips[i].DurationSec()
	}

	return Selection{Clips: clips, TotalDurationSec: total}
}
