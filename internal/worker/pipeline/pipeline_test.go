package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/mpetrenko/notegen/internal/worker/domain"
	"github.com/mpetrenko/notegen/shared/logger"
)

type fakeFetcher struct {
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, workDir string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return workDir + "/audio.wav", nil
}

type fakeTranscriber struct {
	transcript *Transcript
	// errs are returned in order; after they run out, transcript is returned
	errs  []error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (*Transcript, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.transcript, nil
}

type fakeSummarizer struct {
	notes *Notes
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, title string, _ *Transcript) (*Notes, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.notes != nil {
		return f.notes, nil
	}
	return &Notes{Title: title, Summary: "summary"}, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	err     error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.puts++
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func testTranscript() *Transcript {
	return &Transcript{Segments: []Segment{
		{Start: 0, End: 4.2, Text: "welcome to the lecture"},
		{Start: 4.2, End: 9.8, Text: "today we cover queues"},
	}}
}

func newTestPipeline(f Fetcher, tr Transcriber, s Summarizer, store ArtifactStore) *Pipeline {
	return New(&Config{
		Logger:      logger.NewDefault().Logger,
		Fetcher:     f,
		Transcriber: tr,
		Summarizer:  s,
		Store:       store,
		WorkDir:     "",
	})
}

func TestRun_Success(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(
		&fakeFetcher{},
		&fakeTranscriber{transcript: testTranscript()},
		&fakeSummarizer{},
		store,
	)

	job := &domain.Job{JobID: "abc", Title: "Lec1", SourceRef: "https://x/lec1.mp4"}
	resultRef, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "job/abc/notes", resultRef)
	assert.Contains(t, store.objects, "job/abc/transcript")
	assert.Contains(t, store.objects, "job/abc/notes")

	var notes Notes
	require.NoError(t, json.Unmarshal(store.objects["job/abc/notes"], &notes))
	assert.Equal(t, "Lec1", notes.Title)

	var transcript Transcript
	require.NoError(t, json.Unmarshal(store.objects["job/abc/transcript"], &transcript))
	assert.Len(t, transcript.Segments, 2)
}

func TestRun_RepeatedRunsOverwrite(t *testing.T) {
	// Redelivery of the same job must not produce duplicate artifacts:
	// fixed keys, overwrite semantics.
	store := newMemStore()
	p := newTestPipeline(
		&fakeFetcher{},
		&fakeTranscriber{transcript: testTranscript()},
		&fakeSummarizer{},
		store,
	)

	job := &domain.Job{JobID: "abc", Title: "Lec1", SourceRef: "https://x/lec1.mp4"}

	ref1, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	ref2, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, ref1, ref2)
	assert.Len(t, store.objects, 2)
	assert.Equal(t, 4, store.puts)
}

func TestRun_PermanentFetchFailure(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(
		&fakeFetcher{err: domain.NewPermanent(errors.New("unsupported format"))},
		&fakeTranscriber{transcript: testTranscript()},
		&fakeSummarizer{},
		store,
	)

	_, err := p.Run(context.Background(), &domain.Job{JobID: "abc", SourceRef: "https://x/lec1.avi"})
	require.Error(t, err)
	assert.Equal(t, domain.ClassPermanent, domain.Classify(err))
	assert.Empty(t, store.objects)
}

func TestRun_EmptyTranscriptIsPermanent(t *testing.T) {
	p := newTestPipeline(
		&fakeFetcher{},
		&fakeTranscriber{transcript: &Transcript{}},
		&fakeSummarizer{},
		newMemStore(),
	)

	_, err := p.Run(context.Background(), &domain.Job{JobID: "abc", SourceRef: "https://x/lec1.mp4"})
	require.Error(t, err)
	assert.Equal(t, domain.ClassPermanent, domain.Classify(err))
	assert.Contains(t, err.Error(), "no speech detected")
}

func TestRun_TransientTranscribeFailure(t *testing.T) {
	p := newTestPipeline(
		&fakeFetcher{},
		&fakeTranscriber{errs: []error{domain.NewTransient(errors.New("throttled"))}},
		&fakeSummarizer{},
		newMemStore(),
	)

	_, err := p.Run(context.Background(), &domain.Job{JobID: "abc", SourceRef: "https://x/lec1.mp4"})
	require.Error(t, err)
	assert.Equal(t, domain.ClassTransient, domain.Classify(err))
}

func TestRun_StoreFailureIsTransient(t *testing.T) {
	store := newMemStore()
	store.err = fmt.Errorf("connection refused")
	p := newTestPipeline(
		&fakeFetcher{},
		&fakeTranscriber{transcript: testTranscript()},
		&fakeSummarizer{},
		store,
	)

	_, err := p.Run(context.Background(), &domain.Job{JobID: "abc", SourceRef: "https://x/lec1.mp4"})
	require.Error(t, err)
	assert.Equal(t, domain.ClassTransient, domain.Classify(err))
}

func TestFullText(t *testing.T) {
	tr := &Transcript{Segments: []Segment{
		{Text: "  hello "},
		{Text: ""},
		{Text: "world"},
	}}
	assert.Equal(t, "hello world", tr.FullText())
}
