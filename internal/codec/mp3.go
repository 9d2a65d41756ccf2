// Package codec holds the container-level helpers used to validate, strip and
// generate MP3 and WAV audio.
package codec

import (
	"errors"
	"fmt"
)

var (
	ErrNotMP3 = errors.New("not an mpeg audio stream")
	ErrNotWAV = errors.New("not a wav file")
)

// FrameHeader is the decoded 4-byte MPEG audio frame header.
type FrameHeader struct {
	Version    string // "1", "2" or "2.5"
	Layer      int
	Bitrate    int // bits per second
	SampleRate int
	Padding    bool
	Mono       bool
}

// Length returns the frame size in bytes including the header.
func (h FrameHeader) Length() int {
	pad := 0
	if h.Padding {
		pad = 1
	}
	switch {
	case h.Layer == 1:
		return (12*h.Bitrate/h.SampleRate + pad) * 4
	case h.Layer == 3 && h.Version != "1":
		return 72*h.Bitrate/h.SampleRate + pad
	default:
		return 144*h.Bitrate/h.SampleRate + pad
	}
}

// SameStream reports whether two headers can be concatenated without re-encoding.
// Bitrate may differ between frames; channel mode may not.
func (h FrameHeader) SameStream(o FrameHeader) bool {
	return h.Version == o.Version && h.Layer == o.Layer && h.SampleRate == o.SampleRate && h.Mono == o.Mono
}

func (h FrameHeader) String() string {
	channels := "stereo"
	if h.Mono {
		channels = "mono"
	}
	return fmt.Sprintf("mpeg %s layer %d %dHz %s", h.Version, h.Layer, h.SampleRate, channels)
}

var bitrates = map[string][16]int{
	"1/1": {0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, -1},
	"1/2": {0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, -1},
	"1/3": {0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, -1},
	"2/1": {0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, -1},
	"2/2": {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
	"2/3": {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
}

var sampleRates = map[string][3]int{
	"1":   {44100, 48000, 32000},
	"2":   {22050, 24000, 16000},
	"2.5": {11025, 12000, 8000},
}

// ParseFrameHeader decodes the header at the start of b.
func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return FrameHeader{}, ErrNotMP3
	}
	var h FrameHeader
	switch (b[1] >> 3) & 0x03 {
	case 0:
		h.Version = "2.5"
	case 2:
		h.Version = "2"
	case 3:
		h.Version = "1"
	default:
		return FrameHeader{}, fmt.Errorf("%w: reserved version", ErrNotMP3)
	}
	switch (b[1] >> 1) & 0x03 {
	case 1:
		h.Layer = 3
	case 2:
		h.Layer = 2
	case 3:
		h.Layer = 1
	default:
		return FrameHeader{}, fmt.Errorf("%w: reserved layer", ErrNotMP3)
	}

	tableVersion := "1"
	if h.Version != "1" {
		tableVersion = "2"
	}
	rate := bitrates[fmt.Sprintf("%s/%d", tableVersion, h.Layer)][b[2]>>4]
	if rate <= 0 {
		return FrameHeader{}, fmt.Errorf("%w: unsupported bitrate index", ErrNotMP3)
	}
	h.Bitrate = rate * 1000

	srIndex := (b[2] >> 2) & 0x03
	if srIndex == 3 {
		return FrameHeader{}, fmt.Errorf("%w: reserved sample rate", ErrNotMP3)
	}
	h.SampleRate = sampleRates[h.Version][srIndex]
	h.Padding = (b[2]>>1)&0x01 == 1
	h.Mono = b[3]>>6 == 0x03
	return h, nil
}

// StripTags removes a leading ID3v2 tag and a trailing ID3v1 tag.
func StripTags(b []byte) []byte {
	if len(b) >= 10 && string(b[0:3]) == "ID3" {
		size := int(b[6]&0x7F)<<21 | int(b[7]&0x7F)<<14 | int(b[8]&0x7F)<<7 | int(b[9]&0x7F)
		end := 10 + size
		if b[5]&0x10 != 0 {
			end += 10
		}
		if end > len(b) {
			end = len(b)
		}
		b = b[end:]
	}
	if len(b) >= 128 && string(b[len(b)-128:len(b)-125]) == "TAG" {
		b = b[:len(b)-128]
	}
	return b
}

// InspectMP3 strips tags and validates the first frame, returning the raw
// frame data and its header.
func InspectMP3(b []byte) ([]byte, FrameHeader, error) {
	frames := StripTags(b)
	h, err := ParseFrameHeader(frames)
	if err != nil {
		return nil, FrameHeader{}, err
	}
	if h.Length() > len(frames) {
		return nil, FrameHeader{}, fmt.Errorf("%w: truncated first frame", ErrNotMP3)
	}
	return frames, h, nil
}

// silentFrameHeader starts an MPEG-2 Layer III, 64 kbit/s, 24 kHz mono frame.
// With zeroed side information decoders render the frame as silence.
var silentFrameHeader = []byte{0xFF, 0xF3, 0x84, 0xC0}

// SilentMP3 returns n silent frames (24 ms each).
func SilentMP3(n int) []byte {
	if n <= 0 {
		n = 1
	}
	h, _ := ParseFrameHeader(silentFrameHeader)
	frameLen := h.Length()
	out := make([]byte, 0, n*frameLen)
	for i := 0; i < n; i++ {
		frame := make([]byte, frameLen)
		copy(frame, silentFrameHeader)
		out = append(out, frame...)
	}
	return out
}
