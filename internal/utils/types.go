package utils

import "time"

// MirrorConfig carries everything the mirror command needs, resolved from
// flags, environment and the optional config file.
type MirrorConfig struct {
	APIURL           string
	ChunkSize        int64
	MaxAttempts      int
	RetryDelay       time.Duration
	RangeResume      bool
	ReadTimeout      time.Duration
	HTTPClientConfig HTTPClientConfig
	S3               S3Config
}

type S3Config struct {
	Bucket  string
	Prefix  string
	Profile string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// BatchEntry is one record of a batch YAML file.
type BatchEntry struct {
	Record    string `yaml:"record"`
	OutputDir string `yaml:"op,omitempty"`
}

type BatchFile struct {
	Records []BatchEntry `yaml:"records"`
}
