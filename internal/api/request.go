package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/pipeline"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

// ValidationError reports a malformed request. It maps to 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

type generateRequest struct {
	Name   *string         `json:"name"`
	Text   *string         `json:"text"`
	Voice  string          `json:"voice"`
	SpkID  json.RawMessage `json:"spk_id"`
	SpkIDs json.RawMessage `json:"spk_ids"`
}

// parseGenerateRequest decodes the body and resolves the voice selectors.
// Exactly one of voice, spk_id and spk_ids may be given; none selects the
// default voice.
func parseGenerateRequest(body []byte, maxSpeakerID int) (pipeline.Request, error) {
	var raw generateRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return pipeline.Request{}, &ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	if raw.Name == nil || raw.Text == nil {
		return pipeline.Request{}, &ValidationError{Message: "'name' and 'text' fields are required"}
	}
	if err := artifact.ValidateBaseName(*raw.Name); err != nil {
		return pipeline.Request{}, &ValidationError{Field: "name", Message: err.Error()}
	}

	given := 0
	for _, set := range []bool{strings.TrimSpace(raw.Voice) != "", present(raw.SpkID), present(raw.SpkIDs)} {
		if set {
			given++
		}
	}
	if given > 1 {
		return pipeline.Request{}, &ValidationError{Message: "use only one of 'voice', 'spk_id' and 'spk_ids'"}
	}

	req := pipeline.Request{BaseName: *raw.Name, Text: *raw.Text}
	switch {
	case strings.TrimSpace(raw.Voice) != "":
		v, err := tts.ParseVoice(raw.Voice, maxSpeakerID)
		if err != nil {
			return pipeline.Request{}, &ValidationError{Field: "voice", Message: err.Error()}
		}
		req.Voices = []tts.Voice{v}
	case present(raw.SpkID):
		v, err := speakerVoice(raw.SpkID, maxSpeakerID)
		if err != nil {
			return pipeline.Request{}, &ValidationError{Field: "spk_id", Message: err.Error()}
		}
		req.Voices = []tts.Voice{v}
	case present(raw.SpkIDs):
		var ids []json.RawMessage
		if err := json.Unmarshal(raw.SpkIDs, &ids); err != nil {
			// A bare id is accepted in place of a list.
			ids = []json.RawMessage{raw.SpkIDs}
		}
		if len(ids) == 0 {
			return pipeline.Request{}, &ValidationError{Field: "spk_ids", Message: "must not be empty"}
		}
		for _, id := range ids {
			v, err := speakerVoice(id, maxSpeakerID)
			if err != nil {
				return pipeline.Request{}, &ValidationError{Field: "spk_ids", Message: err.Error()}
			}
			req.Voices = append(req.Voices, v)
		}
	}
	return req, nil
}

func present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// speakerVoice accepts a spk_id given as a JSON number or a numeric string.
func speakerVoice(raw json.RawMessage, maxSpeakerID int) (tts.Voice, error) {
	var id int
	if err := json.Unmarshal(raw, &id); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return tts.Voice{}, fmt.Errorf("%w: %s", tts.ErrUnknownVoice, raw)
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(s))
		if convErr != nil {
			return tts.Voice{}, fmt.Errorf("%w: %q", tts.ErrUnknownVoice, s)
		}
		id = n
	}
	return tts.VoiceFromSpeakerID(id, maxSpeakerID)
}
