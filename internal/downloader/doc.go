// Package downloader materializes one remote chapter as one cache entry.
// A HEAD probe decides between a single whole-body GET and a sequential
// ranged transfer (fixed-size byte ranges appended onto the temp file) for
// payloads above the large-file threshold, which bounds peak memory. Bytes
// only become visible under the final name through cache.Store.Promote, and
// every completed download schedules a background eviction pass.
package downloader
