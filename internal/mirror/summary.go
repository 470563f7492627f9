package mirror

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionSkipped      Action = "skipped"
	ActionDownloaded   Action = "downloaded"
	ActionRedownloaded Action = "redownloaded"
	ActionVerified     Action = "verified"
	ActionMissing      Action = "missing"
	ActionMismatched   Action = "mismatched"
)

type FileResult struct {
	Name      string
	Path      string
	Action    Action
	Bytes     int64
	Published bool
}

type Summary struct {
	RunID     string
	RecordID  string
	OutputDir string
	Started   time.Time
	Elapsed   time.Duration
	Files     []FileResult
}

func newSummary(recordID, outputDir string) *Summary {
	return &Summary{
		RunID:     uuid.NewString(),
		RecordID:  recordID,
		OutputDir: outputDir,
		Started:   time.Now(),
	}
}

func (s *Summary) Count(action Action) int {
	n := 0
	for _, f := range s.Files {
		if f.Action == action {
			n++
		}
	}
	return n
}

// Transferred is the number of bytes fetched over the network in this run.
func (s *Summary) Transferred() int64 {
	var total int64
	for _, f := range s.Files {
		total += f.Bytes
	}
	return total
}
