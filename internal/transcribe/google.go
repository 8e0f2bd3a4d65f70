package transcribe

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

// GoogleTranscriber uses Cloud Speech-to-Text synchronous recognition.
type GoogleTranscriber struct {
	recognize    func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	language     string
	sampleRateHz int
}

// NewGoogleTranscriber creates a Speech client from application default credentials.
func NewGoogleTranscriber(ctx context.Context, cfg Config) (*GoogleTranscriber, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes: speech.DefaultAuthScopes(),
	})
	if err != nil {
		return nil, fmt.Errorf("get credentials for speech: %w", err)
	}

	client, err := speech.NewClient(ctx, option.WithAuthCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	return newGoogleTranscriber(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}, cfg), nil
}

func newGoogleTranscriber(recognize func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error), cfg Config) *GoogleTranscriber {
	g := &GoogleTranscriber{
		recognize:    recognize,
		language:     cfg.Language,
		sampleRateHz: cfg.SampleRateHz,
	}
	if g.language == "" {
		g.language = DefaultLanguage
	}
	return g
}

// Transcribe sends the audio inline and joins the top alternative of every result.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, audio Audio) (string, error) {
	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        encodingFor(audio.Format),
			SampleRateHertz: g.sampleRateFor(audio.Format),
			LanguageCode:    g.language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Data},
		},
	}

	resp, err := g.recognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoSpeech
	}
	return strings.Join(parts, " "), nil
}

// sampleRateFor returns the configured rate for headerless audio only.
// Containers carry their own rate and the API rejects a mismatch.
func (g *GoogleTranscriber) sampleRateFor(format string) int32 {
	switch strings.ToLower(format) {
	case "wav", "flac", "ogg", "opus", "webm":
		return 0
	}
	if g.sampleRateHz <= 0 {
		return 0
	}
	return int32(g.sampleRateHz)
}

func encodingFor(format string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(format) {
	case "flac":
		return speechpb.RecognitionConfig_FLAC
	case "ogg", "opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
