// Package verify computes and checks file digests for manifest checksums.
package verify

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/tanq16/recmirror/internal/utils"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

var (
	ErrNotFound             = errors.New("file does not exist")
	ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")
)

var algorithms = map[string]func() hash.Hash{
	"md5":        md5.New,
	"sha1":       sha1.New,
	"sha224":     sha256.New224,
	"sha256":     sha256.New,
	"sha384":     sha512.New384,
	"sha512":     sha512.New,
	"sha512_224": sha512.New512_224,
	"sha512_256": sha512.New512_256,
	"sha3_224":   sha3.New224,
	"sha3_256":   sha3.New256,
	"sha3_384":   sha3.New384,
	"sha3_512":   sha3.New512,
	"blake2b": func() hash.Hash {
		h, _ := blake2b.New512(nil)
		return h
	},
	"blake2s": func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	},
}

func normalize(algorithm string) string {
	name := strings.ToLower(strings.TrimSpace(algorithm))
	name = strings.ReplaceAll(name, "-", "_")
	switch name {
	case "sha_1", "sha_224", "sha_256", "sha_384", "sha_512":
		name = strings.Replace(name, "_", "", 1)
	case "blake2b512":
		name = "blake2b"
	case "blake2s256":
		name = "blake2s"
	}
	return name
}

// Algorithms lists the recognised digest names.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Supported(algorithm string) bool {
	_, ok := algorithms[normalize(algorithm)]
	return ok
}

func NewHash(algorithm string) (hash.Hash, error) {
	ctor, ok := algorithms[normalize(algorithm)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	return ctor(), nil
}

// FileDigest streams path through the named digest and returns the lowercase
// hex sum.
func FileDigest(path, algorithm string) (string, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("error opening %s: %w", path, err)
	}
	defer f.Close()
	buf := make([]byte, utils.HashBlockSize)
	if _, err := io.CopyBuffer(h, onlyReader{f}, buf); err != nil {
		return "", fmt.Errorf("error reading %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the digest of path matches expectedHex. The
// comparison ignores case.
func Verify(path, algorithm, expectedHex string) (bool, error) {
	digest, err := FileDigest(path, algorithm)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(digest, strings.TrimSpace(expectedHex)), nil
}

// onlyReader hides *os.File's WriterTo so CopyBuffer honours the block size.
type onlyReader struct {
	r io.Reader
}

func (o onlyReader) Read(p []byte) (int, error) {
	return o.r.Read(p)
}
