package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	"github.com/szaher/voxgate/internal/testutil"
)

// --- parseTranscript Tests ---

func TestParseTranscript(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    string
		wantErr string
	}{
		{
			name: "single transcript",
			doc:  `{"jobName":"j","results":{"transcripts":[{"transcript":"你好"}],"items":[]}}`,
			want: "你好",
		},
		{
			name: "first of several",
			doc:  `{"results":{"transcripts":[{"transcript":"one"},{"transcript":"two"}]}}`,
			want: "one",
		},
		{name: "missing results", doc: `{"status":"COMPLETED"}`, wantErr: "results.transcripts missing"},
		{name: "invalid json", doc: `{"results":`, wantErr: "invalid JSON"},
		{name: "blank transcript", doc: `{"results":{"transcripts":[{"transcript":"  "}]}}`, wantErr: ErrNoSpeech.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTranscript([]byte(tt.doc))
			if tt.wantErr != "" {
				testutil.AssertErrorContains(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("parseTranscript error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseTranscript = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- AWSTranscriber Tests ---

type fakeS3 struct {
	mu   sync.Mutex
	puts []*s3.PutObjectInput
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

type fakeJobs struct {
	mu       sync.Mutex
	started  *awstranscribe.StartTranscriptionJobInput
	statuses []types.TranscriptionJobStatus
	polls    int
	uri      string
	failure  string
}

func (f *fakeJobs) StartTranscriptionJob(_ context.Context, in *awstranscribe.StartTranscriptionJobInput, _ ...func(*awstranscribe.Options)) (*awstranscribe.StartTranscriptionJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = in
	return &awstranscribe.StartTranscriptionJobOutput{}, nil
}

func (f *fakeJobs) GetTranscriptionJob(_ context.Context, in *awstranscribe.GetTranscriptionJobInput, _ ...func(*awstranscribe.Options)) (*awstranscribe.GetTranscriptionJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.statuses[len(f.statuses)-1]
	if f.polls < len(f.statuses) {
		status = f.statuses[f.polls]
	}
	f.polls++

	job := &types.TranscriptionJob{
		TranscriptionJobName:   in.TranscriptionJobName,
		TranscriptionJobStatus: status,
	}
	switch status {
	case types.TranscriptionJobStatusCompleted:
		job.Transcript = &types.Transcript{TranscriptFileUri: aws.String(f.uri)}
	case types.TranscriptionJobStatusFailed:
		job.FailureReason = aws.String(f.failure)
	}
	return &awstranscribe.GetTranscriptionJobOutput{TranscriptionJob: job}, nil
}

func TestAWSTranscriberTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":{"transcripts":[{"transcript":"今天天氣很好"}]}}`)
	}))
	defer srv.Close()

	up := &fakeS3{}
	jobs := &fakeJobs{
		statuses: []types.TranscriptionJobStatus{
			types.TranscriptionJobStatusInProgress,
			types.TranscriptionJobStatusInProgress,
			types.TranscriptionJobStatusCompleted,
		},
		uri: srv.URL + "/transcript.json",
	}
	tr := newAWSTranscriber(up, jobs, srv.Client(), Config{PollInterval: time.Millisecond, SampleRateHz: 16000})
	tr.newJobName = func() string { return "job-1" }

	got, err := tr.Transcribe(context.Background(), Audio{Name: "abc.wav", Data: []byte("RIFF")})
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if got != "今天天氣很好" {
		t.Errorf("Transcribe = %q", got)
	}

	if len(up.puts) != 1 {
		t.Fatalf("PutObject calls = %d, want 1", len(up.puts))
	}
	if aws.ToString(up.puts[0].Bucket) != DefaultBucket || aws.ToString(up.puts[0].Key) != "abc.wav" {
		t.Errorf("uploaded to %s/%s", aws.ToString(up.puts[0].Bucket), aws.ToString(up.puts[0].Key))
	}

	started := jobs.started
	if aws.ToString(started.TranscriptionJobName) != "job-1" {
		t.Errorf("job name = %q", aws.ToString(started.TranscriptionJobName))
	}
	if started.LanguageCode != types.LanguageCode(DefaultLanguage) {
		t.Errorf("LanguageCode = %q, want %q", started.LanguageCode, DefaultLanguage)
	}
	if started.MediaFormat != types.MediaFormat("wav") {
		t.Errorf("MediaFormat = %q", started.MediaFormat)
	}
	if uri := aws.ToString(started.Media.MediaFileUri); uri != "s3://crossover-audio/abc.wav" {
		t.Errorf("MediaFileUri = %q", uri)
	}
	if aws.ToInt32(started.MediaSampleRateHertz) != 16000 {
		t.Errorf("MediaSampleRateHertz = %d", aws.ToInt32(started.MediaSampleRateHertz))
	}
	if jobs.polls != 3 {
		t.Errorf("polls = %d, want 3", jobs.polls)
	}
}

func TestAWSTranscriberLeavesSampleRateUnset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"transcripts":[{"transcript":"hi"}]}}`)
	}))
	defer srv.Close()

	jobs := &fakeJobs{
		statuses: []types.TranscriptionJobStatus{types.TranscriptionJobStatusCompleted},
		uri:      srv.URL,
	}
	tr := newAWSTranscriber(&fakeS3{}, jobs, srv.Client(), Config{PollInterval: time.Millisecond})

	if _, err := tr.Transcribe(context.Background(), Audio{Name: "recording.webm", Format: "webm", Data: []byte("x")}); err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if jobs.started.MediaFormat != types.MediaFormat("webm") {
		t.Errorf("MediaFormat = %q, want webm", jobs.started.MediaFormat)
	}
	if jobs.started.MediaSampleRateHertz != nil {
		t.Errorf("MediaSampleRateHertz = %d, want unset", aws.ToInt32(jobs.started.MediaSampleRateHertz))
	}
}

func TestAWSTranscriberJobFailed(t *testing.T) {
	jobs := &fakeJobs{
		statuses: []types.TranscriptionJobStatus{types.TranscriptionJobStatusFailed},
		failure:  "unsupported media",
	}
	tr := newAWSTranscriber(&fakeS3{}, jobs, http.DefaultClient, Config{PollInterval: time.Millisecond})

	_, err := tr.Transcribe(context.Background(), Audio{Name: "x.wav", Data: []byte("x")})
	testutil.AssertErrorContains(t, err, "unsupported media")
}

func TestAWSTranscriberUploadError(t *testing.T) {
	jobs := &fakeJobs{statuses: []types.TranscriptionJobStatus{types.TranscriptionJobStatusCompleted}}
	tr := newAWSTranscriber(&fakeS3{err: errors.New("access denied")}, jobs, http.DefaultClient, Config{})

	_, err := tr.Transcribe(context.Background(), Audio{Name: "x.wav"})
	testutil.AssertErrorContains(t, err, "access denied")
	if jobs.started != nil {
		t.Error("job started after failed upload")
	}
}

func TestAWSTranscriberContextCanceledWhilePolling(t *testing.T) {
	jobs := &fakeJobs{statuses: []types.TranscriptionJobStatus{types.TranscriptionJobStatusInProgress}}
	tr := newAWSTranscriber(&fakeS3{}, jobs, http.DefaultClient, Config{PollInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Transcribe(ctx, Audio{Name: "x.wav"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

// --- GoogleTranscriber Tests ---

func TestGoogleTranscriber(t *testing.T) {
	var got *speechpb.RecognizeRequest
	g := newGoogleTranscriber(func(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		got = req
		return &speechpb.RecognizeResponse{
			Results: []*speechpb.SpeechRecognitionResult{
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello"}}},
				{Alternatives: nil},
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "world"}, {Transcript: "word"}}},
			},
		}, nil
	}, Config{Language: "en-US"})

	text, err := g.Transcribe(context.Background(), Audio{Format: "wav", Data: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Transcribe = %q, want %q", text, "hello world")
	}
	if got.GetConfig().GetLanguageCode() != "en-US" {
		t.Errorf("LanguageCode = %q", got.GetConfig().GetLanguageCode())
	}
	if got.GetConfig().GetSampleRateHertz() != 0 {
		t.Errorf("SampleRateHertz = %d, want 0 for wav", got.GetConfig().GetSampleRateHertz())
	}
	if got.GetConfig().GetEncoding() != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("Encoding = %v", got.GetConfig().GetEncoding())
	}
}

func TestGoogleTranscriberSampleRate(t *testing.T) {
	tests := []struct {
		name   string
		rate   int
		format string
		want   int32
	}{
		{"unset", 0, "pcm", 0},
		{"headerless audio", 16000, "pcm", 16000},
		{"wav header wins", 16000, "wav", 0},
		{"webm header wins", 16000, "webm", 0},
		{"flac header wins", 44100, "flac", 0},
		{"ogg header wins", 48000, "ogg", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *speechpb.RecognizeRequest
			g := newGoogleTranscriber(func(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
				got = req
				return &speechpb.RecognizeResponse{
					Results: []*speechpb.SpeechRecognitionResult{
						{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "ok"}}},
					},
				}, nil
			}, Config{SampleRateHz: tt.rate})

			if _, err := g.Transcribe(context.Background(), Audio{Format: tt.format, Data: []byte{1}}); err != nil {
				t.Fatalf("Transcribe error: %v", err)
			}
			if r := got.GetConfig().GetSampleRateHertz(); r != tt.want {
				t.Errorf("SampleRateHertz = %d, want %d", r, tt.want)
			}
		})
	}
}

func TestGoogleTranscriberNoSpeech(t *testing.T) {
	g := newGoogleTranscriber(func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return &speechpb.RecognizeResponse{}, nil
	}, Config{})

	if _, err := g.Transcribe(context.Background(), Audio{}); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("error = %v, want ErrNoSpeech", err)
	}
}

func TestEncodingFor(t *testing.T) {
	tests := map[string]speechpb.RecognitionConfig_AudioEncoding{
		"wav":  speechpb.RecognitionConfig_LINEAR16,
		"FLAC": speechpb.RecognitionConfig_FLAC,
		"ogg":  speechpb.RecognitionConfig_OGG_OPUS,
		"webm": speechpb.RecognitionConfig_WEBM_OPUS,
		"":     speechpb.RecognitionConfig_LINEAR16,
	}
	for in, want := range tests {
		if got := encodingFor(in); got != want {
			t.Errorf("encodingFor(%q) = %v, want %v", in, got, want)
		}
	}
}

// --- Lazy / New Tests ---

func TestLazyBuildsOnce(t *testing.T) {
	var builds atomic.Int32
	mock := NewMockTranscriber("ok")
	lazy := NewLazy(func(context.Context) (Transcriber, error) {
		builds.Add(1)
		time.Sleep(5 * time.Millisecond)
		return mock, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lazy.Transcribe(context.Background(), Audio{}); err != nil {
				t.Errorf("Transcribe error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := builds.Load(); n != 1 {
		t.Errorf("builds = %d, want 1", n)
	}
	if n := len(mock.Calls()); n != 10 {
		t.Errorf("delegated calls = %d, want 10", n)
	}
}

func TestLazyRetriesFailedBuild(t *testing.T) {
	attempts := 0
	lazy := NewLazy(func(context.Context) (Transcriber, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("no credentials")
		}
		return NewMockTranscriber("ok"), nil
	})

	_, err := lazy.Transcribe(context.Background(), Audio{})
	testutil.AssertErrorContains(t, err, "no credentials")

	text, err := lazy.Transcribe(context.Background(), Audio{})
	if err != nil || text != "ok" {
		t.Fatalf("second Transcribe = %q, %v", text, err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider Provider
		wantNil  bool
		wantErr  bool
	}{
		{provider: "", wantNil: true},
		{provider: ProviderNone, wantNil: true},
		{provider: ProviderMock},
		{provider: ProviderAWS},
		{provider: "Google"},
		{provider: "azure", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			tr, err := New(Config{Provider: tt.provider})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New error: %v", err)
			}
			if (tr == nil) != tt.wantNil {
				t.Errorf("New(%q) nil = %v, want %v", tt.provider, tr == nil, tt.wantNil)
			}
		})
	}
}

func TestMockTranscriberError(t *testing.T) {
	m := NewFailingTranscriber(errors.New("boom"))
	_, err := m.Transcribe(context.Background(), Audio{Name: "a.wav"})
	testutil.AssertErrorContains(t, err, "boom")
	if calls := m.Calls(); len(calls) != 1 || calls[0].Name != "a.wav" {
		t.Errorf("Calls = %+v", calls)
	}
}
