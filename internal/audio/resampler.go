// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono S16LE PCM between sample rates. It wraps a
// stateful band-limited resampler, so one instance serves one stream and is
// not safe for concurrent use.
type Resampler struct {
	inRate  int
	outRate int
	rs      resampling.Resampler
}

// NewResampler builds a mono S16LE resampler from inRate to outRate. Equal
// rates configure a passthrough.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	r := &Resampler{inRate: inRate, outRate: outRate}
	if inRate == outRate {
		return r, nil
	}

	config := &resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}
	rs, err := resampling.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	r.rs = rs
	return r, nil
}

// Resample converts one chunk of mono S16LE PCM. Output length follows the
// rate ratio; the internal filter state carries across calls so consecutive
// chunks form a continuous stream with no gaps or duplicated samples.
func (r *Resampler) Resample(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	if r.rs == nil {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	}

	samples := len(pcm) / BytesPerSample
	input := make([]float64, samples)
	for i := 0; i < samples; i++ {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		input[i] = float64(sample) / 32768.0
	}

	output, err := r.rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	out := make([]byte, len(output)*BytesPerSample)
	for i, s := range output {
		sample := int16(s * 32767.0)
		if s > 1.0 {
			sample = 32767
		} else if s < -1.0 {
			sample = -32768
		}
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out, nil
}

// StereoToMono downmixes interleaved stereo S16LE in place by averaging L
// and R, returning the mono byte length.
func StereoToMono(b []byte) int {
	numFrames := len(b) / 4
	for i := 0; i < numFrames; i++ {
		j := i * 4
		k := i * 2
		l := int16(b[j]) | int16(b[j+1])<<8
		r := int16(b[j+2]) | int16(b[j+3])<<8
		m := int16((int32(l) + int32(r)) / 2)
		b[k] = byte(m)
		b[k+1] = byte(m >> 8)
	}
	return numFrames * 2
}
