package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// AWS defaults carried over from the original deployment.
const (
	DefaultRegion       = "us-west-2"
	DefaultBucket       = "crossover-audio"
	DefaultLanguage     = "zh-TW"
	DefaultMediaFormat  = "wav"
	DefaultPollInterval = 5 * time.Second
)

type objectUploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type jobRunner interface {
	StartTranscriptionJob(ctx context.Context, params *awstranscribe.StartTranscriptionJobInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *awstranscribe.GetTranscriptionJobInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.GetTranscriptionJobOutput, error)
}

// AWSTranscriber uploads audio to S3, runs an Amazon Transcribe batch job and
// downloads the resulting transcript.
type AWSTranscriber struct {
	s3         objectUploader
	jobs       jobRunner
	httpClient *http.Client

	bucket       string
	language     string
	mediaFormat  string
	sampleRateHz int
	pollInterval time.Duration
	newJobName   func() string
}

// NewAWSTranscriber loads the default AWS credential chain for cfg.Region.
func NewAWSTranscriber(ctx context.Context, cfg Config) (*AWSTranscriber, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newAWSTranscriber(s3.NewFromConfig(awsCfg), awstranscribe.NewFromConfig(awsCfg), http.DefaultClient, cfg), nil
}

func newAWSTranscriber(up objectUploader, jobs jobRunner, hc *http.Client, cfg Config) *AWSTranscriber {
	t := &AWSTranscriber{
		s3:           up,
		jobs:         jobs,
		httpClient:   hc,
		bucket:       cfg.Bucket,
		language:     cfg.Language,
		mediaFormat:  cfg.MediaFormat,
		sampleRateHz: cfg.SampleRateHz,
		pollInterval: cfg.PollInterval,
		newJobName:   func() string { return "voxgate-" + uuid.NewString() },
	}
	if t.bucket == "" {
		t.bucket = DefaultBucket
	}
	if t.language == "" {
		t.language = DefaultLanguage
	}
	if t.mediaFormat == "" {
		t.mediaFormat = DefaultMediaFormat
	}
	if t.pollInterval <= 0 {
		t.pollInterval = DefaultPollInterval
	}
	return t
}

// Transcribe runs one job to completion. It blocks, polling every
// pollInterval, until the job finishes or ctx is done.
func (t *AWSTranscriber) Transcribe(ctx context.Context, audio Audio) (string, error) {
	key := audio.Name
	if key == "" {
		key = uuid.NewString() + "." + t.format(audio)
	}

	if _, err := t.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(audio.Data),
	}); err != nil {
		return "", fmt.Errorf("upload audio to s3://%s/%s: %w", t.bucket, key, err)
	}

	jobName := t.newJobName()
	input := &awstranscribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		LanguageCode:         types.LanguageCode(t.language),
		MediaFormat:          types.MediaFormat(t.format(audio)),
		Media:                &types.Media{MediaFileUri: aws.String("s3://" + t.bucket + "/" + key)},
	}
	if t.sampleRateHz > 0 {
		input.MediaSampleRateHertz = aws.Int32(int32(t.sampleRateHz))
	}
	if _, err := t.jobs.StartTranscriptionJob(ctx, input); err != nil {
		return "", fmt.Errorf("start transcription job %s: %w", jobName, err)
	}

	uri, err := t.waitForJob(ctx, jobName)
	if err != nil {
		return "", err
	}
	return t.fetchTranscript(ctx, uri)
}

func (t *AWSTranscriber) format(audio Audio) string {
	if audio.Format != "" {
		return strings.ToLower(audio.Format)
	}
	if ext := strings.TrimPrefix(path.Ext(audio.Name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return t.mediaFormat
}

func (t *AWSTranscriber) waitForJob(ctx context.Context, jobName string) (string, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		out, err := t.jobs.GetTranscriptionJob(ctx, &awstranscribe.GetTranscriptionJobInput{
			TranscriptionJobName: aws.String(jobName),
		})
		if err != nil {
			return "", fmt.Errorf("get transcription job %s: %w", jobName, err)
		}

		job := out.TranscriptionJob
		if job != nil {
			switch job.TranscriptionJobStatus {
			case types.TranscriptionJobStatusCompleted:
				if job.Transcript == nil || aws.ToString(job.Transcript.TranscriptFileUri) == "" {
					return "", fmt.Errorf("transcription job %s completed without a transcript", jobName)
				}
				return aws.ToString(job.Transcript.TranscriptFileUri), nil
			case types.TranscriptionJobStatusFailed:
				return "", fmt.Errorf("transcription job %s failed: %s", jobName, aws.ToString(job.FailureReason))
			}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for transcription job %s: %w", jobName, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *AWSTranscriber) fetchTranscript(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("build transcript request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch transcript: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return parseTranscript(body)
}

// parseTranscript extracts the first transcript from an Amazon Transcribe
// result document.
func parseTranscript(doc []byte) (string, error) {
	if !gjson.ValidBytes(doc) {
		return "", fmt.Errorf("parse transcript: invalid JSON")
	}
	text := gjson.GetBytes(doc, "results.transcripts.0.transcript")
	if !text.Exists() {
		return "", fmt.Errorf("parse transcript: results.transcripts missing")
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", ErrNoSpeech
	}
	return text.String(), nil
}
