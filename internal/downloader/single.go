// Package downloader streams one remote file into its partial file and
// retries interrupted transfers.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/recmirror/internal/partial"
	"github.com/tanq16/recmirror/internal/utils"
)

// ProgressSink receives byte counts for display.
type ProgressSink interface {
	Start(label string, total int64)
	Add(n int64)
	Finish()
}

type nopSink struct{}

func (nopSink) Start(string, int64) {}
func (nopSink) Add(int64)           {}
func (nopSink) Finish()             {}

type Options struct {
	ChunkSize int64
	// RangeResume asks the server for the missing tail only. Servers that
	// answer 200 are still handled by skipping the retained prefix.
	RangeResume bool
	ReadTimeout time.Duration
}

type Downloader struct {
	client utils.HTTPDoer
	opts   Options
}

func New(client utils.HTTPDoer, opts Options) *Downloader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = utils.DefaultChunkSize
	}
	return &Downloader{client: client, opts: opts}
}

// Download transfers url into partialPath, resuming from any chunk-aligned
// prefix already on disk, and renames it to finalPath once the stream is
// exhausted. total is the expected size, or negative when unknown; a
// response that ends cleanly is finalized even when its length differs from
// total, leaving the verdict to checksum verification. On error the partial
// file is left in place.
func (d *Downloader) Download(ctx context.Context, url, partialPath, finalPath string, total int64, sink ProgressSink) error {
	if sink == nil {
		sink = nopSink{}
	}
	label := filepath.Base(finalPath)
	offset, err := partial.Prepare(partialPath, d.opts.ChunkSize)
	if err != nil {
		return err
	}
	if total >= 0 && offset > total {
		log.Warn().Str("op", "downloader/single").Msgf("Partial file for %s exceeds expected size, restarting", label)
		if err := partial.Discard(partialPath); err != nil {
			return err
		}
		offset = 0
	}

	sink.Start(label, total)
	defer sink.Finish()
	if offset > 0 {
		log.Info().Str("op", "downloader/single").Msgf("Resuming download of %s from %s", label, utils.FormatBytes(uint64(offset)))
		sink.Add(offset)
	}
	if total > 0 && offset == total {
		log.Debug().Str("op", "downloader/single").Msgf("Partial file for %s already complete", label)
		return partial.Finalize(partialPath, finalPath)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating GET request: %w", err)
	}
	if offset > 0 && d.opts.RangeResume {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error executing GET request: %w", err)
	}
	defer resp.Body.Close()

	// end is the file offset the response itself promises to reach.
	var skip int64
	end := int64(-1)
	switch resp.StatusCode {
	case http.StatusOK:
		skip = offset
		if resp.ContentLength >= 0 {
			end = resp.ContentLength
		}
		if skip > 0 {
			log.Debug().Str("op", "downloader/single").Msgf("Server sent full content for %s, skipping %d retained bytes", label, skip)
		}
	case http.StatusPartialContent:
		start, err := contentRangeStart(resp.Header.Get("Content-Range"))
		if err != nil || start != offset {
			return fmt.Errorf("%w: %q for offset %d", ErrUnexpectedRange, resp.Header.Get("Content-Range"), offset)
		}
		if resp.ContentLength >= 0 {
			end = offset + resp.ContentLength
		}
	default:
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	f, err := os.OpenFile(partialPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("error opening partial file: %w", err)
	}
	defer f.Close()

	var body io.Reader = resp.Body
	if d.opts.ReadTimeout > 0 {
		sr := newStallReader(resp.Body, d.opts.ReadTimeout, cancel)
		defer sr.Stop()
		body = sr
	}
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, body, skip); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %s ended before the %d bytes already on disk", ErrSizeMismatch, label, skip)
			}
			return readFailure(ctx, err)
		}
	}
	written, err := d.copyChunks(ctx, f, body, offset, end, sink)
	if err != nil {
		return err
	}
	if total >= 0 && written != total {
		log.Warn().Str("op", "downloader/single").Msgf("Server sent %d bytes for %s, manifest lists %d", written, label, total)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("error syncing partial file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing partial file: %w", err)
	}
	return partial.Finalize(partialPath, finalPath)
}

// copyChunks appends whole chunks only. A short chunk is written solely when
// the stream ends cleanly at the end the response announced (or with no
// announced end). Anything shorter is a truncated transfer.
func (d *Downloader) copyChunks(ctx context.Context, f *os.File, body io.Reader, written, end int64, sink ProgressSink) (int64, error) {
	buf := make([]byte, d.opts.ChunkSize)
	for {
		n, readErr := readChunk(body, buf)
		full := n == len(buf)
		if n > 0 && (full || readErr == io.EOF) {
			if !full && end >= 0 && written+int64(n) < end {
				return written, &TransientError{Err: ErrShortStream}
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("error writing to partial file: %w", err)
			}
			written += int64(n)
			sink.Add(int64(n))
		}
		if readErr == io.EOF {
			if end >= 0 && written < end {
				return written, &TransientError{Err: ErrShortStream}
			}
			return written, nil
		}
		if readErr != nil {
			return written, readFailure(ctx, readErr)
		}
	}
}

func readChunk(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// readFailure classifies an error from the response body. Cancellation of
// the caller's context is fatal; anything else is a dropped stream.
func readFailure(ctx context.Context, err error) error {
	if errors.Is(err, ErrStalled) {
		return &TransientError{Err: err}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &TransientError{Err: err}
}

// contentRangeStart parses the first byte position of "bytes a-b/c".
func contentRangeStart(header string) (int64, error) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	start, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	return strconv.ParseInt(start, 10, 64)
}
