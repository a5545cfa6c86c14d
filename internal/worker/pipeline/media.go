package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mpetrenko/notegen/internal/worker/domain"
)

// CommandRunner abstracts external process execution for testability
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stderr string, err error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// ObjectGetter reads pre-uploaded source media out of the artifact bucket
type ObjectGetter interface {
	Download(ctx context.Context, key string, w io.Writer) (int64, error)
}

// MediaFetcher downloads source media (HTTP URL or s3 object reference) and
// extracts a mono 16 kHz PCM audio track with ffmpeg, the form the
// speech-to-text service expects.
type MediaFetcher struct {
	logger     *slog.Logger
	httpClient *http.Client
	objects    ObjectGetter
	bucket     string
	runner     CommandRunner
}

// NewMediaFetcher creates a fetcher using the given object store for s3
// refs. bucket is the only bucket the store reads from; s3 refs naming any
// other bucket are rejected.
func NewMediaFetcher(logger *slog.Logger, objects ObjectGetter, bucket string) *MediaFetcher {
	return &MediaFetcher{
		logger:     logger,
		httpClient: &http.Client{},
		objects:    objects,
		bucket:     bucket,
		runner:     ExecRunner{},
	}
}

// Fetch retrieves the source and returns the path of the extracted audio
func (f *MediaFetcher) Fetch(ctx context.Context, sourceRef, workDir string) (string, error) {
	videoPath := filepath.Join(workDir, "source.mp4")

	u, err := url.Parse(sourceRef)
	if err != nil {
		return "", domain.NewPermanent(fmt.Errorf("invalid source_ref: %w", err))
	}

	switch u.Scheme {
	case "http", "https":
		if err := f.download(ctx, sourceRef, videoPath); err != nil {
			return "", err
		}
	case "s3":
		if u.Host != f.bucket {
			return "", domain.NewPermanent(fmt.Errorf(
				"s3 source bucket %q is not the configured artifact bucket %q", u.Host, f.bucket))
		}
		if err := f.downloadObject(ctx, strings.TrimPrefix(u.Path, "/"), videoPath); err != nil {
			return "", err
		}
	default:
		return "", domain.NewPermanent(fmt.Errorf("unsupported source_ref scheme %q", u.Scheme))
	}

	return f.extractAudio(ctx, videoPath, workDir)
}

func (f *MediaFetcher) download(ctx context.Context, srcURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return domain.NewPermanent(fmt.Errorf("build download request: %w", err))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.NewTransient(fmt.Errorf("download source: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.NewTransient(fmt.Errorf("download source: status %d", resp.StatusCode))
	default:
		// 404 and friends: the reference is wrong, retrying cannot help
		return domain.NewPermanent(fmt.Errorf("download source: status %d", resp.StatusCode))
	}

	out, err := os.Create(destPath)
	if err != nil {
		return domain.NewTransient(fmt.Errorf("create source file: %w", err))
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return domain.NewTransient(fmt.Errorf("write source file: %w", err))
	}
	if n == 0 {
		return domain.NewPermanent(errors.New("downloaded source is empty"))
	}

	f.logger.Debug("Source downloaded",
		slog.String("url", srcURL),
		slog.Int64("bytes", n),
	)

	return nil
}

func (f *MediaFetcher) downloadObject(ctx context.Context, key, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return domain.NewTransient(fmt.Errorf("create source file: %w", err))
	}
	defer out.Close()

	n, err := f.objects.Download(ctx, key, out)
	if err != nil {
		return domain.NewTransient(fmt.Errorf("download source object %q: %w", key, err))
	}
	if n == 0 {
		return domain.NewPermanent(errors.New("source object is empty"))
	}

	return nil
}

// extractAudio runs ffmpeg to produce mono 16 kHz 16-bit PCM
func (f *MediaFetcher) extractAudio(ctx context.Context, videoPath, workDir string) (string, error) {
	audioPath := filepath.Join(workDir, "audio.wav")

	stderr, err := f.runner.Run(ctx, "ffmpeg",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		audioPath,
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// ffmpeg rejecting the input means the media itself is unusable
		return "", domain.NewPermanent(fmt.Errorf("audio extraction failed: %s: %w", tail(stderr, 300), err))
	}

	info, err := os.Stat(audioPath)
	if err != nil || info.Size() == 0 {
		return "", domain.NewPermanent(errors.New("audio extraction produced no output"))
	}

	f.logger.Debug("Audio extracted",
		slog.String("path", audioPath),
		slog.Int64("bytes", info.Size()),
	)

	return audioPath, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
