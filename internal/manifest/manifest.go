// Package manifest fetches and validates the file listing of a record.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/recmirror/internal/utils"
)

var ErrInvalidManifest = errors.New("invalid manifest")

type Entry struct {
	Name      string `json:"key" validate:"required"`
	Size      int64  `json:"size" validate:"gte=0"`
	Checksum  string `json:"checksum" validate:"required"`
	Algorithm string `json:"-" validate:"required"`
	Digest    string `json:"-" validate:"required,hexadecimal"`
}

type Manifest struct {
	RecordID string
	Entries  []Entry
}

func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.Entries {
		total += e.Size
	}
	return total
}

type filesResponse struct {
	Entries []Entry `json:"entries"`
}

// ParseChecksum splits "<algorithm>:<hex>" on its first colon.
func ParseChecksum(s string) (string, string, error) {
	alg, digest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || alg == "" || digest == "" {
		return "", "", fmt.Errorf("%w: malformed checksum %q", ErrInvalidManifest, s)
	}
	return alg, digest, nil
}

type Client struct {
	client  utils.HTTPDoer
	baseURL string
	valid   *validator.Validate
}

func NewClient(client utils.HTTPDoer, baseURL string) *Client {
	if baseURL == "" {
		baseURL = utils.DefaultAPIURL
	}
	return &Client{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		valid:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (c *Client) ManifestURL(recordID string) string {
	return fmt.Sprintf("%s/records/%s/files", c.baseURL, url.PathEscape(recordID))
}

func (c *Client) ContentURL(recordID, name string) string {
	return fmt.Sprintf("%s/records/%s/files/%s/content", c.baseURL, url.PathEscape(recordID), escapeKey(name))
}

// escapeKey escapes each slash-separated segment of a file key.
func escapeKey(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (c *Client) Fetch(ctx context.Context, recordID string) (*Manifest, error) {
	if strings.TrimSpace(recordID) == "" {
		return nil, fmt.Errorf("%w: empty record id", ErrInvalidManifest)
	}
	link := c.ManifestURL(recordID)
	log.Debug().Str("op", "manifest/fetch").Msgf("Fetching manifest from %s", link)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating manifest request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("manifest request for record %s failed with status %d", recordID, resp.StatusCode)
	}
	var payload filesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: error decoding response: %v", ErrInvalidManifest, err)
	}
	m := &Manifest{RecordID: recordID, Entries: payload.Entries}
	if err := c.Validate(m); err != nil {
		return nil, err
	}
	log.Debug().Str("op", "manifest/fetch").Msgf("Record %s lists %d entries", recordID, len(m.Entries))
	return m, nil
}

// Validate splits every checksum and checks entries for required fields,
// unique names and names that stay inside the output directory.
func (c *Client) Validate(m *Manifest) error {
	seen := make(map[string]struct{}, len(m.Entries))
	for i := range m.Entries {
		e := &m.Entries[i]
		if e.Checksum != "" {
			alg, digest, err := ParseChecksum(e.Checksum)
			if err != nil {
				return fmt.Errorf("entry %q: %w", e.Name, err)
			}
			e.Algorithm, e.Digest = alg, digest
		}
		if err := c.valid.Struct(e); err != nil {
			return fmt.Errorf("%w: entry %d (%q): %v", ErrInvalidManifest, i+1, e.Name, err)
		}
		if !filepath.IsLocal(filepath.FromSlash(e.Name)) {
			return fmt.Errorf("%w: entry name %q escapes the output directory", ErrInvalidManifest, e.Name)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("%w: duplicate entry name %q", ErrInvalidManifest, e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return nil
}
