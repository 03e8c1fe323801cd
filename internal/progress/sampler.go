package progress

import "audio-transcriber/internal/domain"

// Sampler suppresses repetitive progress logs while keeping stage changes and
// percentage bucket crossings.
type Sampler struct {
	bucketSize float64
	lastStage  domain.Stage
	lastBucket int
}

// NewSampler emits when percent crosses a bucket boundary (default 5%) or
// when the stage changes.
func NewSampler(bucketSize float64) *Sampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &Sampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a sample is worth logging. Negative percent means
// unknown and never crosses a bucket.
func (s *Sampler) ShouldLog(stage domain.Stage, percent float64) bool {
	if s == nil {
		return true
	}
	emit := false
	if stage != "" && stage != s.lastStage {
		s.lastStage = stage
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears state between jobs.
func (s *Sampler) Reset() {
	if s == nil {
		return
	}
	s.lastStage = ""
	s.lastBucket = -1
}
