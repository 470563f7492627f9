package mirror

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/tanq16/recmirror/internal/downloader"
	"github.com/tanq16/recmirror/internal/manifest"
	"github.com/tanq16/recmirror/internal/partial"
	"github.com/tanq16/recmirror/internal/utils"
	"github.com/tanq16/recmirror/internal/verify"
)

const (
	fox    = "The quick brown fox jumps over the lazy dog"
	foxMD5 = "9e107d9d372bb6826bd81d3542a419d6"
)

type file struct {
	name     string
	data     []byte
	checksum string
	// size overrides the manifest size when non-zero.
	size int
	// dropFirst cuts the first content request after this many bytes.
	dropFirst int
}

// record serves a manifest and file contents under /records/123.
type record struct {
	*httptest.Server
	mu     sync.Mutex
	files  []file
	calls  map[string]int
	ranges map[string][]string
}

func sha256Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func newRecord(t *testing.T, files ...file) *record {
	t.Helper()
	rec := &record{files: files, calls: map[string]int{}, ranges: map[string][]string{}}
	rec.Server = httptest.NewServer(http.HandlerFunc(rec.handle))
	t.Cleanup(rec.Close)
	return rec
}

func (rec *record) handle(w http.ResponseWriter, r *http.Request) {
	const prefix = "/records/123/files"
	if r.URL.Path == prefix {
		type entry struct {
			Key      string `json:"key"`
			Size     int    `json:"size"`
			Checksum string `json:"checksum"`
		}
		var entries []entry
		for _, f := range rec.files {
			checksum := f.checksum
			if checksum == "" {
				checksum = sha256Checksum(f.data)
			}
			size := len(f.data)
			if f.size != 0 {
				size = f.size
			}
			entries = append(entries, entry{Key: f.name, Size: size, Checksum: checksum})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"entries": entries})
		return
	}
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix+"/"), "/content")
	for _, f := range rec.files {
		if f.name != name {
			continue
		}
		rec.mu.Lock()
		rec.calls[name]++
		call := rec.calls[name]
		rec.ranges[name] = append(rec.ranges[name], r.Header.Get("Range"))
		rec.mu.Unlock()
		start := 0
		if h := r.Header.Get("Range"); h != "" {
			start, _ = strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(h, "bytes="), "-"))
			w.Header().Set("Content-Range", "bytes "+strconv.Itoa(start)+"-"+strconv.Itoa(len(f.data)-1)+"/"+strconv.Itoa(len(f.data)))
			w.Header().Set("Content-Length", strconv.Itoa(len(f.data)-start))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.Header().Set("Content-Length", strconv.Itoa(len(f.data)))
		}
		body := f.data[start:]
		if call == 1 && f.dropFirst > 0 {
			w.Write(body[:f.dropFirst])
			w.(http.Flusher).Flush()
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Write(body)
		return
	}
	http.NotFound(w, r)
}

func (rec *record) Calls(name string) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.calls[name]
}

func (rec *record) Ranges(name string) []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]string(nil), rec.ranges[name]...)
}

type status struct {
	name, status string
}

type recordReporter struct {
	statuses []status
}

func (r *recordReporter) Start(string, int64) {}
func (r *recordReporter) Add(int64)           {}
func (r *recordReporter) Finish()             {}
func (r *recordReporter) Status(name, st, _ string) {
	r.statuses = append(r.statuses, status{name, st})
}

type fakePublisher struct {
	published []string
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, recordID string, entry manifest.Entry, localPath string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, recordID+"/"+entry.Name)
	return nil
}

func newMirror(rec *record, reporter Reporter) *Mirror {
	client := utils.NewMirrorHTTPClient(utils.HTTPClientConfig{})
	dl := downloader.New(client, downloader.Options{ChunkSize: 4096, RangeResume: true})
	driver := downloader.NewDriver(dl, downloader.RetryPolicy{})
	return New(manifest.NewClient(client, rec.URL), driver, reporter)
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i * 13) % 251)
	}
	return data
}

func TestRunDownloadsAndVerifies(t *testing.T) {
	rec := newRecord(t, file{name: "data.csv", data: []byte(fox), checksum: "md5:" + foxMD5})
	dir := t.TempDir()
	reporter := &recordReporter{}

	summary, err := newMirror(rec, reporter).Run(context.Background(), "123", dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "data.csv"))
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	if string(got) != fox {
		t.Errorf("unexpected content %q", got)
	}
	sum := md5.Sum(got)
	if hex.EncodeToString(sum[:]) != foxMD5 {
		t.Errorf("md5 mismatch")
	}
	if _, err := os.Stat(filepath.Join(dir, "data.csv.partial")); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
	want := []FileResult{{Name: "data.csv", Path: filepath.Join(dir, "data.csv"), Action: ActionDownloaded, Bytes: 43}}
	if diff := cmp.Diff(want, summary.Files); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if summary.RunID == "" {
		t.Error("expected a run id")
	}
	if diff := cmp.Diff([]status{{"data.csv", "success"}}, reporter.statuses, cmp.AllowUnexported(status{})); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSkipsVerifiedFiles(t *testing.T) {
	rec := newRecord(t,
		file{name: "data.csv", data: []byte(fox), checksum: "md5:" + foxMD5},
		file{name: "nested/blob.bin", data: testData(10000)},
	)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data.csv"), []byte(fox), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "blob.bin"), testData(10000), 0644); err != nil {
		t.Fatal(err)
	}

	summary, err := newMirror(rec, &recordReporter{}).Run(context.Background(), "123", dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Calls("data.csv") != 0 || rec.Calls("nested/blob.bin") != 0 {
		t.Errorf("expected no content requests, got %d and %d", rec.Calls("data.csv"), rec.Calls("nested/blob.bin"))
	}
	if summary.Count(ActionSkipped) != 2 {
		t.Errorf("expected 2 skipped, got %d", summary.Count(ActionSkipped))
	}
	if summary.Transferred() != 0 {
		t.Errorf("expected nothing transferred, got %d", summary.Transferred())
	}
}

func TestRunRedownloadsMismatchedFile(t *testing.T) {
	data := testData(10000)
	rec := newRecord(t, file{name: "blob.bin", data: data})
	dir := t.TempDir()
	final := filepath.Join(dir, "blob.bin")
	if err := os.WriteFile(final, []byte("corrupted"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(partial.Path(final), data[:8192], 0644); err != nil {
		t.Fatal(err)
	}

	summary, err := newMirror(rec, &recordReporter{}).Run(context.Background(), "123", dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{""}, rec.Ranges("blob.bin")); diff != "" {
		t.Errorf("expected a fresh download from offset 0 (-want +got):\n%s", diff)
	}
	got, _ := os.ReadFile(final)
	if string(got) != string(data) {
		t.Error("redownloaded content does not match")
	}
	if summary.Files[0].Action != ActionRedownloaded {
		t.Errorf("expected redownloaded, got %s", summary.Files[0].Action)
	}
}

func TestRunResumesPartial(t *testing.T) {
	data := testData(20000)
	rec := newRecord(t, file{name: "blob.bin", data: data})
	dir := t.TempDir()
	final := filepath.Join(dir, "blob.bin")
	// 9000 bytes is cut back to two whole chunks.
	if err := os.WriteFile(partial.Path(final), data[:9000], 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := newMirror(rec, &recordReporter{}).Run(context.Background(), "123", dir); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"bytes=8192-"}, rec.Ranges("blob.bin")); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
	ok, err := verify.Verify(final, "sha256", strings.TrimPrefix(sha256Checksum(data), "sha256:"))
	if err != nil || !ok {
		t.Errorf("expected verified file, got ok=%v err=%v", ok, err)
	}
}

func TestRunRecoversFromDroppedConnection(t *testing.T) {
	data := testData(30000)
	rec := newRecord(t, file{name: "blob.bin", data: data, dropFirst: 10000})
	dir := t.TempDir()

	if _, err := newMirror(rec, &recordReporter{}).Run(context.Background(), "123", dir); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"", "bytes=8192-"}, rec.Ranges("blob.bin")); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "blob.bin"))
	if string(got) != string(data) {
		t.Error("content differs after retry")
	}
}

func TestRunChecksumMismatchAfterDownload(t *testing.T) {
	rec := newRecord(t,
		file{name: "data.csv", data: []byte(fox), checksum: "md5:00000000000000000000000000000000"},
		file{name: "later.bin", data: testData(100)},
	)
	dir := t.TempDir()
	reporter := &recordReporter{}

	_, err := newMirror(rec, reporter).Run(context.Background(), "123", dir)
	var mismatch *ChecksumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ChecksumMismatchError, got %v", err)
	}
	if mismatch.Actual != foxMD5 {
		t.Errorf("expected actual digest %s, got %s", foxMD5, mismatch.Actual)
	}
	if !strings.Contains(err.Error(), "data.csv") {
		t.Errorf("error should name the file: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "data.csv")); statErr != nil {
		t.Errorf("mismatched file should stay on disk: %v", statErr)
	}
	if rec.Calls("later.bin") != 0 {
		t.Error("run should stop at the first mismatch")
	}
}

func TestRunStaleManifestFailsVerification(t *testing.T) {
	data := testData(10000)
	rec := newRecord(t, file{
		name:     "data.bin",
		data:     data,
		size:     15000,
		checksum: sha256Checksum(testData(15000)),
	})
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := newMirror(rec, &recordReporter{}).Run(ctx, "123", dir)
	var mismatch *ChecksumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ChecksumMismatchError, got %v", err)
	}
	if rec.Calls("data.bin") != 1 {
		t.Errorf("expected a single content request, got %d", rec.Calls("data.bin"))
	}
	got, _ := os.ReadFile(filepath.Join(dir, "data.bin"))
	if len(got) != len(data) {
		t.Errorf("expected the served %d bytes on disk, got %d", len(data), len(got))
	}
	if _, err := os.Stat(filepath.Join(dir, "data.bin.partial")); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestRunCreatesOutputDirForEmptyRecord(t *testing.T) {
	rec := newRecord(t)
	dir := filepath.Join(t.TempDir(), "mirror", "123")

	summary, err := newMirror(rec, &recordReporter{}).Run(context.Background(), "123", dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Files) != 0 {
		t.Errorf("expected no files, got %d", len(summary.Files))
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Errorf("expected output directory to exist: %v", err)
	}
}

func TestRunRejectsUnsupportedAlgorithm(t *testing.T) {
	rec := newRecord(t,
		file{name: "a.bin", data: testData(10)},
		file{name: "b.bin", data: testData(10), checksum: "crc32:414fa339"},
	)
	_, err := newMirror(rec, &recordReporter{}).Run(context.Background(), "123", t.TempDir())
	if !errors.Is(err, verify.ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
	if rec.Calls("a.bin") != 0 {
		t.Error("no content should be requested before algorithms are checked")
	}
}

func TestRunStopsOnMissingContent(t *testing.T) {
	rec := newRecord(t, file{name: "a.bin", data: testData(10)})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/content") {
			http.NotFound(w, r)
			return
		}
		rec.handle(w, r)
	}))
	defer srv.Close()
	client := utils.NewMirrorHTTPClient(utils.HTTPClientConfig{})
	dl := downloader.New(client, downloader.Options{ChunkSize: 4096, RangeResume: true})
	m := New(manifest.NewClient(client, srv.URL), downloader.NewDriver(dl, downloader.RetryPolicy{}), &recordReporter{})

	_, err := m.Run(context.Background(), "123", t.TempDir())
	var statusErr *downloader.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
}

func TestRunPublishes(t *testing.T) {
	rec := newRecord(t,
		file{name: "data.csv", data: []byte(fox), checksum: "md5:" + foxMD5},
		file{name: "blob.bin", data: testData(5000)},
	)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data.csv"), []byte(fox), 0644); err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{}

	summary, err := newMirror(rec, &recordReporter{}).WithPublisher(pub).Run(context.Background(), "123", dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"123/data.csv", "123/blob.bin"}, pub.published); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	for _, f := range summary.Files {
		if !f.Published {
			t.Errorf("%s not marked published", f.Name)
		}
	}

	pub.err = errors.New("bucket unavailable")
	if _, err := newMirror(rec, &recordReporter{}).WithPublisher(pub).Run(context.Background(), "123", dir); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestRunCancelled(t *testing.T) {
	rec := newRecord(t, file{name: "a.bin", data: testData(10)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newMirror(rec, &recordReporter{}).Run(ctx, "123", t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	rec := newRecord(t,
		file{name: "good.bin", data: testData(100)},
		file{name: "bad.bin", data: testData(200)},
		file{name: "gone.bin", data: testData(300)},
	)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "good.bin"), testData(100), 0644)
	os.WriteFile(filepath.Join(dir, "bad.bin"), testData(199), 0644)
	reporter := &recordReporter{}

	summary, err := newMirror(rec, reporter).Check(context.Background(), "123", dir)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	var got []Action
	for _, f := range summary.Files {
		got = append(got, f.Action)
	}
	if diff := cmp.Diff([]Action{ActionVerified, ActionMismatched, ActionMissing}, got); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	for _, name := range []string{"good.bin", "bad.bin", "gone.bin"} {
		if rec.Calls(name) != 0 {
			t.Errorf("check should not download %s", name)
		}
	}

	os.WriteFile(filepath.Join(dir, "bad.bin"), testData(200), 0644)
	os.WriteFile(filepath.Join(dir, "gone.bin"), testData(300), 0644)
	if _, err := newMirror(rec, reporter).Check(context.Background(), "123", dir); err != nil {
		t.Errorf("expected complete copy, got %v", err)
	}
}

func TestLocalPath(t *testing.T) {
	if _, err := localPath("out", "../escape"); !errors.Is(err, ErrUnsafeEntry) {
		t.Errorf("expected ErrUnsafeEntry, got %v", err)
	}
	got, err := localPath("out", "a/b.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join("out", "a", "b.txt") {
		t.Errorf("unexpected path %s", got)
	}
}

func TestActualDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(fox), 0644); err != nil {
		t.Fatal(err)
	}
	if got := actualDigest(zerolog.Nop(), path, "md5"); got != foxMD5 {
		t.Errorf("expected %s, got %s", foxMD5, got)
	}
	if got := actualDigest(zerolog.Nop(), filepath.Join(t.TempDir(), "gone"), "md5"); got != "unknown" {
		t.Errorf("expected unknown for unreadable file, got %s", got)
	}
}
