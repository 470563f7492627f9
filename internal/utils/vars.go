package utils

import "time"

const (
	ToolUserAgent  = "recmirror/1.0"
	DefaultAPIURL  = "https://zenodo.org/api"
	PartialSuffix  = ".partial"
	EnvPrefix      = "RECMIRROR"
	LogTimeFormat  = time.DateTime
	HashBlockSize  = 4096
	ChunkSizeLimit = 1024 * 1024 * 64 // 64MB
)

const (
	DefaultChunkSize        = 8192
	DefaultHeaderTimeout    = 60 * time.Second
	DefaultConnectTimeout   = 30 * time.Second
	DefaultReadTimeout      = 2 * time.Minute
	DefaultKeepAliveTimeout = 90 * time.Second
)
