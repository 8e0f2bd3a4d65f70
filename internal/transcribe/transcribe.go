// Package transcribe turns uploaded speech into text through a cloud
// speech-to-text service.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Provider names a transcription backend.
type Provider string

const (
	ProviderAWS    Provider = "aws"
	ProviderGoogle Provider = "google"
	ProviderMock   Provider = "mock"
	ProviderNone   Provider = "none"
)

// ErrNoSpeech is returned when the service produced an empty transcript.
var ErrNoSpeech = errors.New("no speech recognized")

// Audio is a single uploaded recording.
type Audio struct {
	// Name is the stored file name, e.g. "3f6c....wav". Used as the object key.
	Name string
	// Format is the container or encoding, e.g. "wav".
	Format string
	Data   []byte
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Provider     Provider
	Region       string
	Bucket       string
	Language     string
	MediaFormat  string
	PollInterval time.Duration
	// SampleRateHz pins the audio sample rate. Zero lets the service read it
	// from the file header.
	SampleRateHz int
}

// New returns the Transcriber for cfg.Provider. Cloud clients are created on
// first use so the server can start without credentials. ProviderNone and an
// empty provider return (nil, nil).
func New(cfg Config) (Transcriber, error) {
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case "", ProviderNone:
		return nil, nil
	case ProviderAWS:
		return NewLazy(func(ctx context.Context) (Transcriber, error) {
			return NewAWSTranscriber(ctx, cfg)
		}), nil
	case ProviderGoogle:
		return NewLazy(func(ctx context.Context) (Transcriber, error) {
			return NewGoogleTranscriber(ctx, cfg)
		}), nil
	case ProviderMock:
		return NewMockTranscriber("mock transcript"), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}
}

// Lazy builds its backend on the first Transcribe call. Concurrent first
// calls share a single build; a failed build is retried on the next call.
type Lazy struct {
	build func(ctx context.Context) (Transcriber, error)
	group singleflight.Group

	mu sync.RWMutex
	t  Transcriber
}

// NewLazy wraps build.
func NewLazy(build func(ctx context.Context) (Transcriber, error)) *Lazy {
	return &Lazy{build: build}
}

// Transcribe initializes the backend if needed and delegates to it.
func (l *Lazy) Transcribe(ctx context.Context, audio Audio) (string, error) {
	t, err := l.get(ctx)
	if err != nil {
		return "", err
	}
	return t.Transcribe(ctx, audio)
}

func (l *Lazy) get(ctx context.Context) (Transcriber, error) {
	l.mu.RLock()
	t := l.t
	l.mu.RUnlock()
	if t != nil {
		return t, nil
	}

	v, err, _ := l.group.Do("init", func() (interface{}, error) {
		l.mu.RLock()
		existing := l.t
		l.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		built, err := l.build(ctx)
		if err != nil {
			return nil, fmt.Errorf("init transcriber: %w", err)
		}
		l.mu.Lock()
		l.t = built
		l.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Transcriber), nil
}
