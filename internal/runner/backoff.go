package runner

import (
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"time"
)

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}

// shortID trims a sha256 task id for log lines.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// relOutputPath strips the renders dir from an artifact path, falling back to
// the base name if the artifact somehow lives elsewhere.
func relOutputPath(rendersDir, outputPath string) string {
	rel, err := filepath.Rel(rendersDir, outputPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(outputPath)
	}
	return rel
}
