package tts

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates the supported voice configurations.
type Kind int

const (
	KindDefault Kind = iota
	KindMale
	KindSpeaker
)

// Model keys under tts.models.
const (
	ModelDefault  = "default"
	ModelMale     = "male"
	ModelAishell3 = "aishell3"
)

// Voice selects one fixed voice configuration. The zero value is the default voice.
type Voice struct {
	kind    Kind
	speaker int
}

var (
	Default = Voice{kind: KindDefault}
	Male    = Voice{kind: KindMale}
)

// Speaker selects one speaker of the multi-speaker model.
func Speaker(id int) Voice {
	return Voice{kind: KindSpeaker, speaker: id}
}

func (v Voice) Kind() Kind { return v.kind }

// SpeakerID returns the speaker id for KindSpeaker voices.
func (v Voice) SpeakerID() (int, bool) {
	return v.speaker, v.kind == KindSpeaker
}

// Model returns the tts.models key backing the voice.
func (v Voice) Model() string {
	switch v.kind {
	case KindMale:
		return ModelMale
	case KindSpeaker:
		return ModelAishell3
	default:
		return ModelDefault
	}
}

// Tag is the identifier embedded in file names when a request renders more
// than one voice.
func (v Voice) Tag() string {
	switch v.kind {
	case KindMale:
		return "male"
	case KindSpeaker:
		return strconv.Itoa(v.speaker)
	default:
		return "default"
	}
}

func (v Voice) String() string {
	switch v.kind {
	case KindMale:
		return "male"
	case KindSpeaker:
		return fmt.Sprintf("speaker-%d", v.speaker)
	default:
		return "default"
	}
}

// ParseVoice resolves a textual selector: default, female, male or speaker-<id>.
func ParseVoice(selector string, maxSpeakerID int) (Voice, error) {
	s := strings.ToLower(strings.TrimSpace(selector))
	switch s {
	case "", "default", "female", "default-female":
		return Default, nil
	case "male":
		return Male, nil
	}
	if rest, ok := strings.CutPrefix(s, "speaker-"); ok {
		id, err := strconv.Atoi(rest)
		if err != nil || id < 0 || id > maxSpeakerID {
			return Voice{}, fmt.Errorf("%w: %q", ErrUnknownVoice, selector)
		}
		return Speaker(id), nil
	}
	return Voice{}, fmt.Errorf("%w: %q", ErrUnknownVoice, selector)
}

// VoiceFromSpeakerID maps the numeric spk_id: 1 is the default voice, 2 the
// male voice, and 3..maxSpeakerID a speaker of the multi-speaker model.
func VoiceFromSpeakerID(id, maxSpeakerID int) (Voice, error) {
	switch {
	case id == 1:
		return Default, nil
	case id == 2:
		return Male, nil
	case id >= 3 && id <= maxSpeakerID:
		return Speaker(id), nil
	}
	return Voice{}, fmt.Errorf("%w: spk_id %d", ErrUnknownVoice, id)
}
