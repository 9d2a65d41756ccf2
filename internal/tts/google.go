package tts

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/loqalabs/loqa-tts/internal/config"
)

type googleEngine struct {
	client     *texttospeech.Client
	voice      string
	sampleRate int
}

// NewGoogleFactory returns engines backed by Google Cloud Text-to-Speech.
// Each model key maps to the cloud voice named in its cloud_voice field.
// Credentials come from GOOGLE_APPLICATION_CREDENTIALS.
func NewGoogleFactory(sampleRate int) Factory {
	return func(ctx context.Context, key string, model config.ModelConfig) (Engine, error) {
		if model.CloudVoice == "" {
			return nil, fmt.Errorf("model %s: cloud_voice must be set", key)
		}
		client, err := texttospeech.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Google TTS client: %w", err)
		}
		return &googleEngine{client: client, voice: model.CloudVoice, sampleRate: sampleRate}, nil
	}
}

// languageCode extracts the locale from a voice name ("cmn-CN-Wavenet-C" -> "cmn-CN").
func languageCode(voice string) string {
	parts := strings.Split(voice, "-")
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "cmn-CN"
}

func (g *googleEngine) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	encoding := ttspb.AudioEncoding_MP3
	if req.Format == "wav" {
		encoding = ttspb.AudioEncoding_LINEAR16
	}
	resp, err := g.client.SynthesizeSpeech(ctx, &ttspb.SynthesizeSpeechRequest{
		Input: &ttspb.SynthesisInput{
			InputSource: &ttspb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &ttspb.VoiceSelectionParams{
			LanguageCode: languageCode(g.voice),
			Name:         g.voice,
		},
		AudioConfig: &ttspb.AudioConfig{
			AudioEncoding:   encoding,
			SampleRateHertz: int32(g.sampleRate),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	return resp.AudioContent, nil
}

func (g *googleEngine) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
