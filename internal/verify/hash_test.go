package verify

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fox = "The quick brown fox jumps over the lazy dog"

func writeFile(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestFileDigest(t *testing.T) {
	path := writeFile(t, fox)
	tests := []struct {
		algorithm string
		want      string
	}{
		{"md5", "9e107d9d372bb6826bd81d3542a419d6"},
		{"MD5", "9e107d9d372bb6826bd81d3542a419d6"},
		{"sha1", "2fd4e1c67a2d28fced849ee1bb76e7391b93eb12"},
		{"sha256", "d7a8fbb307d7809469ca9abcb0082e4f8d5651e46d3cdb762d02d0bf37c9e592"},
		{"sha-256", "d7a8fbb307d7809469ca9abcb0082e4f8d5651e46d3cdb762d02d0bf37c9e592"},
		{"sha3_256", "69070dda01975c8c120c3aada1b282394e7f032fa9cf32f4cb2259a0897dfc04"},
	}
	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			got, err := FileDigest(path, tt.algorithm)
			if err != nil {
				t.Fatalf("FileDigest: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestVerifyIgnoresCase(t *testing.T) {
	path := writeFile(t, fox)
	ok, err := Verify(path, "md5", strings.ToUpper("9e107d9d372bb6826bd81d3542a419d6"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected uppercase digest to verify")
	}
}

func TestVerifyMismatch(t *testing.T) {
	path := writeFile(t, fox+".")
	ok, err := Verify(path, "md5", "9e107d9d372bb6826bd81d3542a419d6")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expected mismatch")
	}
}

func TestVerifyLargerThanBlock(t *testing.T) {
	data := strings.Repeat("0123456789abcdef", 1000) // 16000 bytes, several blocks
	path := writeFile(t, data)
	want, err := FileDigest(path, "sha256")
	if err != nil {
		t.Fatalf("FileDigest: %v", err)
	}
	ok, err := Verify(path, "sha256", want)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	_, err := Verify(filepath.Join(t.TempDir(), "absent"), "md5", "00")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyUnsupportedAlgorithm(t *testing.T) {
	path := writeFile(t, fox)
	_, err := Verify(path, "crc32", "00")
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
	if Supported("crc32") {
		t.Error("crc32 should not be supported")
	}
	for _, name := range Algorithms() {
		if !Supported(name) {
			t.Errorf("listed algorithm %s not supported", name)
		}
	}
}
