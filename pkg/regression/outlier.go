package regression

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// Isolation-forest style scorer over a one-dimensional sample window.
// Anomalous points isolate in few random splits, giving a short average path
// length and a score near 1; inliers score near 0.5 or below.
const (
	forestTrees     = 64
	forestSubsample = 64
)

// outlier fits a small isolation forest on the window and scores the
// observation. The PRNG is seeded from the window contents, so the same
// window and value always produce the same score.
func (d *Detector) outlier(window []float64, value float64) (bool, float64) {
	if len(window) < 8 {
		return false, 0
	}
	rng := rand.New(rand.NewSource(windowSeed(window)))

	var pathSum float64
	sub := forestSubsample
	if sub > len(window) {
		sub = len(window)
	}
	for t := 0; t < forestTrees; t++ {
		sample := make([]float64, sub)
		for i := range sample {
			sample[i] = window[rng.Intn(len(window))]
		}
		pathSum += isolationPath(sample, value, rng, 0, maxDepth(sub))
	}
	avgPath := pathSum / forestTrees

	c := averagePathLength(sub)
	if c == 0 {
		return false, 0
	}
	score := math.Pow(2, -avgPath/c)
	return score > d.cfg.OutlierScoreLimit, score
}

// isolationPath walks random splits until the value isolates or depth runs
// out, returning the (adjusted) path length.
func isolationPath(sample []float64, value float64, rng *rand.Rand, depth, limit int) float64 {
	if len(sample) <= 1 || depth >= limit {
		return float64(depth) + averagePathLength(len(sample))
	}
	lo, hi := minMax(sample)
	if lo == hi {
		return float64(depth) + averagePathLength(len(sample))
	}
	split := lo + rng.Float64()*(hi-lo)

	var side []float64
	for _, v := range sample {
		if (v < split) == (value < split) {
			side = append(side, v)
		}
	}
	return isolationPath(side, value, rng, depth+1, limit)
}

// averagePathLength is the expected path length of an unsuccessful BST
// search over n points, the standard isolation-forest normalizer.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

func maxDepth(n int) int {
	return int(math.Ceil(math.Log2(float64(n)))) + 1
}

func minMax(vs []float64) (float64, float64) {
	lo, hi := vs[0], vs[0]
	for _, v := range vs[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// windowSeed derives a deterministic PRNG seed from the window contents so
// detection is idempotent for a fixed window.
func windowSeed(window []float64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range window {
		bits := math.Float64bits(v)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	return int64(h.Sum64())
}
