package transcribe

import (
	"context"
	"sync"
)

// MockTranscriber returns a fixed transcript and records its inputs.
type MockTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []Audio
}

// NewMockTranscriber creates a mock that always returns text.
func NewMockTranscriber(text string) *MockTranscriber {
	return &MockTranscriber{text: text}
}

// NewFailingTranscriber creates a mock that always returns err.
func NewFailingTranscriber(err error) *MockTranscriber {
	return &MockTranscriber{err: err}
}

// Transcribe returns the configured text or error.
func (m *MockTranscriber) Transcribe(ctx context.Context, audio Audio) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, audio)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

// Calls returns the audio passed to Transcribe so far.
func (m *MockTranscriber) Calls() []Audio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Audio(nil), m.calls...)
}
