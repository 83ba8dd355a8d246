package audio

import (
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

// WAV wraps PCM in a canonical 44-byte RIFF header.
func WAV(pcm []byte, f Format) []byte {
	bits := f.BitsPerSample
	if bits <= 0 {
		bits = 16
	}
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	blockAlign := ch * bits / 8
	byteRate := f.SampleRateHz * blockAlign

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:], uint16(ch))
	binary.LittleEndian.PutUint32(out[24:], uint32(f.SampleRateHz))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], uint16(bits))
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// ParseWAV returns the PCM payload and format of a canonical WAV file.
func ParseWAV(b []byte) ([]byte, Format, error) {
	if len(b) < wavHeaderSize || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("not a wav file")
	}
	if binary.LittleEndian.Uint16(b[20:]) != 1 {
		return nil, Format{}, errors.New("wav is not linear pcm")
	}
	f := Format{
		Channels:      int(binary.LittleEndian.Uint16(b[22:])),
		SampleRateHz:  int(binary.LittleEndian.Uint32(b[24:])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[34:])),
	}
	if string(b[36:40]) != "data" {
		return nil, Format{}, errors.New("wav data chunk not found")
	}
	n := int(binary.LittleEndian.Uint32(b[40:]))
	if n > len(b)-wavHeaderSize {
		n = len(b) - wavHeaderSize
	}
	return b[wavHeaderSize : wavHeaderSize+n], f, nil
}
