package buffer

// Config holds the knobs needed to construct a BufferPoolManager. Its yaml
// field tags let it be decoded from YAML; this module has no loader of its
// own.
type Config struct {
	// PoolSize is the number of frames the pool holds in memory.
	PoolSize int `yaml:"pool_size"`
	// ReplacerK is the k in LRU-K: how many recent accesses the replacer
	// tracks per frame before a frame is considered to have a "full
	// history". Defaults to 2 if zero.
	ReplacerK int `yaml:"replacer_k"`
	// BucketSize is the maximum number of entries per hash directory
	// bucket before it splits. Defaults to hashdir.DefaultBucketSize if
	// zero.
	BucketSize int `yaml:"bucket_size"`
	// DBPath records which file backs the pool's Manager, for callers that
	// construct both from one decoded Config. New does not open or touch
	// this path itself — the Manager passed to New is already open.
	DBPath string `yaml:"db_path"`
}
