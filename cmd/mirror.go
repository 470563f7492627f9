package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tanq16/recmirror/internal/downloader"
	"github.com/tanq16/recmirror/internal/manifest"
	"github.com/tanq16/recmirror/internal/mirror"
	"github.com/tanq16/recmirror/internal/output"
	"github.com/tanq16/recmirror/internal/publish"
	"github.com/tanq16/recmirror/internal/utils"
)

func newManifestClient(cfg utils.MirrorConfig) *manifest.Client {
	return manifest.NewClient(utils.NewMirrorHTTPClient(cfg.HTTPClientConfig), cfg.APIURL)
}

func retryPolicy(cfg utils.MirrorConfig) downloader.RetryPolicy {
	return downloader.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Delay: cfg.RetryDelay}
}

// newMirror builds a mirror without a publisher.
func newMirror(cfg utils.MirrorConfig) *mirror.Mirror {
	client := utils.NewMirrorHTTPClient(cfg.HTTPClientConfig)
	dl := downloader.New(client, downloader.Options{
		ChunkSize:   cfg.ChunkSize,
		RangeResume: cfg.RangeResume,
		ReadTimeout: cfg.ReadTimeout,
	})
	driver := downloader.NewDriver(dl, retryPolicy(cfg))
	return mirror.New(manifest.NewClient(client, cfg.APIURL), driver, output.NewProgress(os.Stdout))
}

// buildMirror adds the S3 publisher when a bucket is configured.
func buildMirror(ctx context.Context, cfg utils.MirrorConfig) (*mirror.Mirror, error) {
	m := newMirror(cfg)
	if cfg.S3.Enabled() {
		pub, err := publish.NewS3Publisher(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		m.WithPublisher(pub)
	}
	return m, nil
}

func printSummary(s *mirror.Summary) {
	lines := summaryLines(s)
	if len(lines) == 0 {
		return
	}
	fmt.Println()
	output.PrintHeader(fmt.Sprintf("Record %s", s.RecordID))
	for _, line := range lines {
		fmt.Println(line)
	}
}

func summaryLines(s *mirror.Summary) []string {
	if s == nil || len(s.Files) == 0 {
		return nil
	}
	lines := []string{fmt.Sprintf("  %s %s", output.FDetail("run:"), output.FDebug(s.RunID))}
	if n := s.Count(mirror.ActionVerified) + s.Count(mirror.ActionMissing) + s.Count(mirror.ActionMismatched); n > 0 {
		return append(lines, fmt.Sprintf("  %s %s, %s, %s", output.FDetail("files:"),
			output.FSuccess(fmt.Sprintf("%d verified", s.Count(mirror.ActionVerified))),
			output.FError(fmt.Sprintf("%d mismatched", s.Count(mirror.ActionMismatched))),
			output.FError(fmt.Sprintf("%d missing", s.Count(mirror.ActionMissing)))))
	}
	return append(lines,
		fmt.Sprintf("  %s %s, %s, %s", output.FDetail("files:"),
			output.FSuccess(fmt.Sprintf("%d downloaded", s.Count(mirror.ActionDownloaded))),
			output.FWarning(fmt.Sprintf("%d redownloaded", s.Count(mirror.ActionRedownloaded))),
			output.FInfo(fmt.Sprintf("%d skipped", s.Count(mirror.ActionSkipped)))),
		fmt.Sprintf("  %s %s in %s", output.FDetail("transferred:"),
			utils.FormatBytes(uint64(s.Transferred())), s.Elapsed.Round(time.Millisecond)),
	)
}
