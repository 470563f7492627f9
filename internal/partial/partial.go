// Package partial manages the on-disk staging file of an in-progress
// download.
//
// A partial file lives next to its final path with a ".partial" suffix. Its
// length is kept at a whole multiple of the chunk size: Prepare truncates any
// trailing fragment left by an interrupted write, so resumed transfers
// append at a chunk boundary. Finalize renames it into place, which is the
// only moment the final file becomes visible.
package partial

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/recmirror/internal/utils"
)

var ErrInvalidChunkSize = errors.New("invalid chunk size")

func Path(finalPath string) string {
	return finalPath + utils.PartialSuffix
}

// Prepare returns the byte offset a download into partialPath should resume
// from. A missing file yields 0 with no side effects.
func Prepare(partialPath string, chunkSize int64) (int64, error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	info, err := os.Stat(partialPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error inspecting partial file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("partial path %s is not a regular file", partialPath)
	}
	size := info.Size()
	aligned := AlignDown(size, chunkSize)
	if aligned != size {
		log.Debug().Str("op", "partial/prepare").Msgf("Truncating %s from %d to %d bytes", filepath.Base(partialPath), size, aligned)
		if err := os.Truncate(partialPath, aligned); err != nil {
			return 0, fmt.Errorf("error truncating partial file: %w", err)
		}
	}
	return aligned, nil
}

// AlignDown rounds size down to the nearest multiple of chunkSize.
func AlignDown(size, chunkSize int64) int64 {
	return (size / chunkSize) * chunkSize
}

func Finalize(partialPath, finalPath string) error {
	if err := os.Rename(partialPath, finalPath); err != nil {
		return fmt.Errorf("error renaming (finalizing) output file: %w", err)
	}
	return nil
}

func Discard(partialPath string) error {
	if err := os.Remove(partialPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error removing partial file: %w", err)
	}
	return nil
}

// Clean removes every partial file below dir and returns their paths.
func Clean(dir string) ([]string, error) {
	var removed []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), utils.PartialSuffix) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed = append(removed, path)
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("error cleaning partial files: %w", err)
	}
	return removed, nil
}
