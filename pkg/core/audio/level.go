package audio

import "math"

// RMS returns the root-mean-square level of 16-bit PCM, normalized to [0, 1].
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(uint16(pcm[i])|uint16(pcm[i+1])<<8)) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}

// Peak returns the largest absolute sample, normalized to [0, 1].
func Peak(pcm []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(pcm); i += 2 {
		// float64 before Abs so -32768 does not overflow.
		v := math.Abs(float64(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)))
		if v > peak {
			peak = v
		}
	}
	return peak / 32768.0
}

// Silent reports whether no sample in pcm reaches threshold.
func Silent(pcm []byte, threshold float64) bool {
	return Peak(pcm) < threshold
}
