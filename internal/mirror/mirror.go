// Package mirror walks a record's manifest and brings the local copy of
// every file to a verified state.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/recmirror/internal/downloader"
	"github.com/tanq16/recmirror/internal/manifest"
	"github.com/tanq16/recmirror/internal/partial"
	"github.com/tanq16/recmirror/internal/utils"
	"github.com/tanq16/recmirror/internal/verify"
)

type MetadataService interface {
	Fetch(ctx context.Context, recordID string) (*manifest.Manifest, error)
	ContentURL(recordID, name string) string
}

type Runner interface {
	Run(ctx context.Context, entry manifest.Entry, url, partialPath, finalPath string, sink downloader.ProgressSink) error
}

// Reporter shows transfer progress and per-file decisions.
type Reporter interface {
	downloader.ProgressSink
	Status(name, status, message string)
}

type Publisher interface {
	Publish(ctx context.Context, recordID string, entry manifest.Entry, localPath string) error
}

type Mirror struct {
	metadata  MetadataService
	driver    Runner
	reporter  Reporter
	publisher Publisher
}

func New(metadata MetadataService, driver Runner, reporter Reporter) *Mirror {
	return &Mirror{metadata: metadata, driver: driver, reporter: reporter}
}

func (m *Mirror) WithPublisher(p Publisher) *Mirror {
	m.publisher = p
	return m
}

// Run processes every manifest entry in order. The first fatal error stops
// the run; the returned summary covers the entries handled before it.
func (m *Mirror) Run(ctx context.Context, recordID, outputDir string) (*Summary, error) {
	summary := newSummary(recordID, outputDir)
	logger := utils.GetLogger("mirror").With().Str("run", summary.RunID).Str("record", recordID).Logger()
	mf, err := m.fetch(ctx, recordID)
	if err != nil {
		return summary, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return summary, fmt.Errorf("error creating output directory: %w", err)
	}
	logger.Info().Str("op", "mirror/run").Msgf("Record %s lists %d entries (%s)", recordID, len(mf.Entries), utils.FormatBytes(uint64(mf.TotalSize())))
	for _, entry := range mf.Entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := m.mirrorEntry(ctx, logger, recordID, outputDir, entry)
		if err != nil {
			logger.Error().Str("op", "mirror/run").Err(err).Msgf("Aborting record %s at %s", recordID, entry.Name)
			return summary, err
		}
		summary.Files = append(summary.Files, result)
	}
	summary.Elapsed = time.Since(summary.Started)
	logger.Info().Str("op", "mirror/run").Msgf("Record %s complete: %d downloaded, %d redownloaded, %d skipped",
		recordID, summary.Count(ActionDownloaded), summary.Count(ActionRedownloaded), summary.Count(ActionSkipped))
	return summary, nil
}

func (m *Mirror) mirrorEntry(ctx context.Context, logger zerolog.Logger, recordID, outputDir string, entry manifest.Entry) (FileResult, error) {
	finalPath, err := localPath(outputDir, entry.Name)
	if err != nil {
		return FileResult{Name: entry.Name}, err
	}
	result := FileResult{Name: entry.Name, Path: finalPath, Action: ActionDownloaded}
	partialPath := partial.Path(finalPath)

	_, err = os.Stat(finalPath)
	switch {
	case err == nil:
		ok, err := verify.Verify(finalPath, entry.Algorithm, entry.Digest)
		if err != nil {
			return result, fmt.Errorf("error verifying %s: %w", entry.Name, err)
		}
		if ok {
			logger.Info().Str("op", "mirror/entry").Msgf("File %s already found", entry.Name)
			m.reporter.Status(entry.Name, "skipped", "already present, checksum verified")
			result.Action = ActionSkipped
			return result, m.publish(ctx, recordID, entry, &result)
		}
		logger.Warn().Str("op", "mirror/entry").Msgf("File %s exists, but checksums do not match. Redownloading", entry.Name)
		m.reporter.Status(entry.Name, "warning", "checksum mismatch on existing file, redownloading")
		if err := os.Remove(finalPath); err != nil {
			return result, fmt.Errorf("error removing %s: %w", finalPath, err)
		}
		if err := partial.Discard(partialPath); err != nil {
			return result, err
		}
		result.Action = ActionRedownloaded
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
			return result, fmt.Errorf("error creating directory for %s: %w", entry.Name, err)
		}
	default:
		return result, fmt.Errorf("error inspecting %s: %w", finalPath, err)
	}

	url := m.metadata.ContentURL(recordID, entry.Name)
	logger.Debug().Str("op", "mirror/entry").Msgf("Downloading %s from %s", entry.Name, url)
	if err := m.driver.Run(ctx, entry, url, partialPath, finalPath, m.reporter); err != nil {
		return result, fmt.Errorf("error downloading %s: %w", entry.Name, err)
	}

	ok, err := verify.Verify(finalPath, entry.Algorithm, entry.Digest)
	if err != nil {
		return result, fmt.Errorf("error verifying %s: %w", entry.Name, err)
	}
	if !ok {
		actual := actualDigest(logger, finalPath, entry.Algorithm)
		m.reporter.Status(entry.Name, "error", "checksum mismatch after download")
		return result, &ChecksumMismatchError{
			Name:      entry.Name,
			Path:      finalPath,
			Algorithm: entry.Algorithm,
			Expected:  entry.Digest,
			Actual:    actual,
		}
	}
	result.Bytes = entry.Size
	m.reporter.Status(entry.Name, "success", "downloaded, checksum verified")
	return result, m.publish(ctx, recordID, entry, &result)
}

// Check verifies the local copy without downloading anything.
func (m *Mirror) Check(ctx context.Context, recordID, outputDir string) (*Summary, error) {
	summary := newSummary(recordID, outputDir)
	mf, err := m.fetch(ctx, recordID)
	if err != nil {
		return summary, err
	}
	bad := 0
	for _, entry := range mf.Entries {
		finalPath, err := localPath(outputDir, entry.Name)
		if err != nil {
			return summary, err
		}
		result := FileResult{Name: entry.Name, Path: finalPath, Action: ActionVerified}
		ok, err := verify.Verify(finalPath, entry.Algorithm, entry.Digest)
		switch {
		case errors.Is(err, verify.ErrNotFound):
			result.Action = ActionMissing
			m.reporter.Status(entry.Name, "error", "missing")
			bad++
		case err != nil:
			return summary, fmt.Errorf("error verifying %s: %w", entry.Name, err)
		case !ok:
			result.Action = ActionMismatched
			m.reporter.Status(entry.Name, "error", "checksum mismatch")
			bad++
		default:
			m.reporter.Status(entry.Name, "success", "checksum verified")
		}
		summary.Files = append(summary.Files, result)
	}
	summary.Elapsed = time.Since(summary.Started)
	if bad > 0 {
		return summary, fmt.Errorf("%w: %d of %d files not verified", ErrIncomplete, bad, len(mf.Entries))
	}
	return summary, nil
}

// fetch reads the manifest and rejects unknown digest algorithms before any
// content is requested.
func (m *Mirror) fetch(ctx context.Context, recordID string) (*manifest.Manifest, error) {
	mf, err := m.metadata.Fetch(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("error fetching manifest: %w", err)
	}
	for _, entry := range mf.Entries {
		if !verify.Supported(entry.Algorithm) {
			return nil, fmt.Errorf("entry %s: %w: %q", entry.Name, verify.ErrUnsupportedAlgorithm, entry.Algorithm)
		}
	}
	return mf, nil
}

func (m *Mirror) publish(ctx context.Context, recordID string, entry manifest.Entry, result *FileResult) error {
	if m.publisher == nil {
		return nil
	}
	if err := m.publisher.Publish(ctx, recordID, entry, result.Path); err != nil {
		return fmt.Errorf("error publishing %s: %w", entry.Name, err)
	}
	result.Published = true
	return nil
}

// actualDigest reports the digest of a mismatched file for error messages.
func actualDigest(logger zerolog.Logger, path, algorithm string) string {
	digest, err := verify.FileDigest(path, algorithm)
	if err != nil {
		logger.Debug().Str("op", "mirror/entry").Err(err).Msgf("Could not re-read %s for its digest", path)
		return "unknown"
	}
	return digest
}

func localPath(outputDir, name string) (string, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, name)
	}
	return filepath.Join(outputDir, rel), nil
}
