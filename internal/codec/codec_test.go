package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestSilentMP3Frames(t *testing.T) {
	data := SilentMP3(5)
	frames, h, err := InspectMP3(data)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if h.Version != "2" || h.Layer != 3 || h.SampleRate != 24000 || h.Bitrate != 64000 || !h.Mono {
		t.Fatalf("unexpected header %+v", h)
	}
	if h.Length() != 192 || len(frames) != 5*192 {
		t.Fatalf("unexpected frame sizes: len=%d total=%d", h.Length(), len(frames))
	}
}

func TestSameStream(t *testing.T) {
	mono, err := ParseFrameHeader([]byte{0xFF, 0xF3, 0x84, 0xC0})
	if err != nil {
		t.Fatalf("parse mono: %v", err)
	}
	stereo, err := ParseFrameHeader([]byte{0xFF, 0xF3, 0x84, 0x00})
	if err != nil {
		t.Fatalf("parse stereo: %v", err)
	}
	// 32 kbit/s, otherwise identical to mono
	slower, err := ParseFrameHeader([]byte{0xFF, 0xF3, 0x44, 0xC0})
	if err != nil {
		t.Fatalf("parse slower: %v", err)
	}
	if stereo.Mono || mono.SameStream(stereo) || stereo.SameStream(mono) {
		t.Fatalf("mono and stereo must not concatenate: %v %v", mono, stereo)
	}
	if !mono.SameStream(slower) {
		t.Fatalf("bitrate change should concatenate: %v %v", mono, slower)
	}
	if got := mono.String(); got != "mpeg 2 layer 3 24000Hz mono" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestStripTags(t *testing.T) {
	frames := SilentMP3(2)
	id3v2 := []byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, 4, 'a', 'b', 'c', 'd'}
	id3v1 := append([]byte("TAG"), make([]byte, 125)...)
	tagged := append(append(append([]byte{}, id3v2...), frames...), id3v1...)
	if got := StripTags(tagged); !bytes.Equal(got, frames) {
		t.Fatalf("expected tags stripped, got %d bytes", len(got))
	}
}

func TestInspectMP3RejectsGarbage(t *testing.T) {
	if _, _, err := InspectMP3([]byte("RIFF....WAVEfmt ")); !errors.Is(err, ErrNotMP3) {
		t.Fatalf("expected ErrNotMP3, got %v", err)
	}
	if _, _, err := InspectMP3(SilentMP3(1)[:50]); !errors.Is(err, ErrNotMP3) {
		t.Fatalf("expected truncated frame to be rejected, got %v", err)
	}
}

func TestSilentWAVRoundTrip(t *testing.T) {
	data, err := SilentWAV(24000, 480)
	if err != nil {
		t.Fatalf("silent wav: %v", err)
	}
	buf, format, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format != (WAVFormat{SampleRate: 24000, Channels: 1, BitDepth: 16}) {
		t.Fatalf("unexpected format %+v", format)
	}
	if len(buf.Data) != 480 {
		t.Fatalf("expected 480 samples, got %d", len(buf.Data))
	}
}

func TestDecodeWAVRejectsMP3(t *testing.T) {
	if _, _, err := DecodeWAV(SilentMP3(3)); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}
