// Package audio holds PCM conversions shared by the live pipeline and speech playback.
//
// All PCM in this module is signed 16-bit little-endian. The live session captures
// at 16 kHz mono and the model answers at 24 kHz mono.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Format describes a PCM stream.
type Format struct {
	SampleRateHz  int
	Channels      int
	BitsPerSample int
}

var (
	// InputFormat is what microphones deliver to the live session.
	InputFormat = Format{SampleRateHz: 16000, Channels: 1, BitsPerSample: 16}
	// OutputFormat is what the model returns for speech and live audio.
	OutputFormat = Format{SampleRateHz: 24000, Channels: 1, BitsPerSample: 16}
)

// DefaultFrameSamples matches the capture buffer size used by browser clients.
const DefaultFrameSamples = 4096

// MIMEType returns the provider mime type for raw PCM in this format.
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRateHz)
}

func (f Format) bytesPerFrame() int {
	bps := f.BitsPerSample / 8
	if bps <= 0 {
		bps = 2
	}
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return bps * ch
}

// BytesPerSecond returns the byte rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRateHz * f.bytesPerFrame()
}

// Duration returns how long n bytes of audio play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	frames := n / f.bytesPerFrame()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRateHz)
}

// BytesFor returns the byte count of d worth of audio, aligned to whole frames.
func (f Format) BytesFor(d time.Duration) int {
	if d <= 0 || f.SampleRateHz <= 0 {
		return 0
	}
	frames := int(int64(d) * int64(f.SampleRateHz) / int64(time.Second))
	return frames * f.bytesPerFrame()
}

// Float32ToPCM16 clamps samples to [-1, 1] and scales them to int16.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat32 converts int16 samples to floats in [-1, 1).
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// EncodeBase64 encodes raw audio for JSON transport.
func EncodeBase64(p []byte) string {
	return base64.StdEncoding.EncodeToString(p)
}

// DecodeBase64 accepts padded and unpadded standard or URL-safe input.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("invalid base64 audio payload")
}

// Frame splits pcm into frameBytes-sized frames. The last frame may be short.
func Frame(pcm []byte, frameBytes int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if frameBytes <= 0 || frameBytes >= len(pcm) {
		return [][]byte{pcm}
	}
	out := make([][]byte, 0, (len(pcm)+frameBytes-1)/frameBytes)
	for start := 0; start < len(pcm); start += frameBytes {
		end := start + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		out = append(out, pcm[start:end])
	}
	return out
}
