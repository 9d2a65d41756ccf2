package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// WAVFormat is the subset of the fmt chunk that must match for concatenation.
type WAVFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DecodeWAV parses a PCM wav file held in memory.
func DecodeWAV(data []byte) (*audio.IntBuffer, WAVFormat, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, WAVFormat{}, ErrNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, WAVFormat{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	format := WAVFormat{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	return buf, format, nil
}

// EncodeWAV writes PCM samples as a wav file to w.
func EncodeWAV(w io.WriteSeeker, format WAVFormat, samples []int) error {
	enc := wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: format.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// SilentWAV returns a 16-bit mono wav with the given number of zero samples.
func SilentWAV(sampleRate, samples int) ([]byte, error) {
	if samples <= 0 {
		samples = 1
	}
	format := WAVFormat{SampleRate: sampleRate, Channels: 1, BitDepth: 16}
	return WAVBytes(format, make([]int, samples))
}

// WAVBytes encodes samples into an in-memory wav file.
func WAVBytes(format WAVFormat, samples []int) ([]byte, error) {
	ws := &memWriteSeeker{}
	if err := EncodeWAV(ws, format, samples); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// memWriteSeeker lets the wav encoder patch its header in memory.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}
