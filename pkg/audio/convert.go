// Package audio converts synthesized float samples into the integer PCM the
// output formats need and encodes them as WAV files.
package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// PCM16 converts float samples in [-1, 1] to 16-bit integer samples. Values
// outside the range are clamped; NaN becomes silence.
func PCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = toInt16(s)
	}
	return out
}

func toInt16(s float32) int {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	}
	return int(math.Round(float64(s) * math.MaxInt16))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// Resample converts mono samples from srcRate to dstRate with a high
// quality polyphase resampler. The result always holds
// len(samples)*dstRate/srcRate samples. The input is returned unchanged when
// the rates match or either is not positive.
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples, nil
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	res, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d -> %d Hz: %w", srcRate, dstRate, err)
	}

	// The filter delay leaves the tail short; pad it with silence.
	out := make([]float32, n)
	for i := range min(n, len(res)) {
		out[i] = float32(res[i])
	}
	return out, nil
}
