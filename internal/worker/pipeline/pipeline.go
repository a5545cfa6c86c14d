package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mpetrenko/notegen/internal/worker/domain"
)

// Segment is one time-stamped piece of transcribed speech
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the ordered output of speech-to-text
type Transcript struct {
	Segments []Segment `json:"segments"`
}

// FullText joins all segments into one body of text for summarization
func (t *Transcript) FullText() string {
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if s := strings.TrimSpace(seg.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Notes is the structured summary document generated from a transcript
type Notes struct {
	Title     string   `json:"title"`
	Outline   []string `json:"outline"`
	KeyPoints []string `json:"key_points"`
	Summary   string   `json:"summary"`
}

// Fetcher retrieves source media and produces a local audio file ready for
// transcription
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef, workDir string) (audioPath string, err error)
}

// Transcriber converts audio into an ordered, time-stamped transcript
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*Transcript, error)
}

// Summarizer turns a transcript into structured notes
type Summarizer interface {
	Summarize(ctx context.Context, title string, transcript *Transcript) (*Notes, error)
}

// ArtifactStore persists artifacts by key with overwrite semantics
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Config holds pipeline dependencies, constructed once per worker instance
// and injected so stages run against substituted collaborators in tests
type Config struct {
	Logger      *slog.Logger
	Fetcher     Fetcher
	Transcriber Transcriber
	Summarizer  Summarizer
	Store       ArtifactStore
	WorkDir     string
}

// Pipeline executes one processing attempt:
// fetch -> transcribe -> summarize -> persist
type Pipeline struct {
	logger      *slog.Logger
	fetcher     Fetcher
	transcriber Transcriber
	summarizer  Summarizer
	store       ArtifactStore
	workDir     string
}

// New creates a pipeline instance
func New(cfg *Config) *Pipeline {
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	return &Pipeline{
		logger:      cfg.Logger,
		fetcher:     cfg.Fetcher,
		transcriber: cfg.Transcriber,
		summarizer:  cfg.Summarizer,
		store:       cfg.Store,
		workDir:     workDir,
	}
}

// Run executes all stages for one job and returns the result reference.
// Artifact writes overwrite fixed keys, so running the same job again
// produces one consistent result, never duplicates.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job) (string, error) {
	tempDir, err := os.MkdirTemp(p.workDir, "job-"+job.JobID+"-")
	if err != nil {
		return "", domain.NewTransient(fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(tempDir); rmErr != nil {
			p.logger.Warn("Failed to clean up work dir",
				slog.String("job_id", job.JobID),
				slog.String("dir", tempDir),
			)
		}
	}()

	p.logger.Info("Pipeline started",
		slog.String("job_id", job.JobID),
		slog.String("source_ref", job.SourceRef),
	)

	audioPath, err := p.fetcher.Fetch(ctx, job.SourceRef, tempDir)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	transcript, err := p.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if len(transcript.Segments) == 0 {
		return "", fmt.Errorf("transcribe: %w", domain.NewPermanent(fmt.Errorf("no speech detected in audio")))
	}

	notes, err := p.summarizer.Summarize(ctx, job.Title, transcript)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	resultRef, err := p.persist(ctx, job.JobID, transcript, notes)
	if err != nil {
		return "", fmt.Errorf("persist: %w", err)
	}

	p.logger.Info("Pipeline completed",
		slog.String("job_id", job.JobID),
		slog.Int("segments", len(transcript.Segments)),
		slog.String("result_ref", resultRef),
	)

	return resultRef, nil
}

func (p *Pipeline) persist(ctx context.Context, jobID string, transcript *Transcript, notes *Notes) (string, error) {
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return "", domain.NewPermanent(fmt.Errorf("encode transcript: %w", err))
	}

	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return "", domain.NewPermanent(fmt.Errorf("encode notes: %w", err))
	}

	if err := p.store.Put(ctx, TranscriptKey(jobID), transcriptJSON, "application/json"); err != nil {
		return "", domain.NewTransient(fmt.Errorf("store transcript: %w", err))
	}

	notesKey := NotesKey(jobID)
	if err := p.store.Put(ctx, notesKey, notesJSON, "application/json"); err != nil {
		return "", domain.NewTransient(fmt.Errorf("store notes: %w", err))
	}

	return notesKey, nil
}
