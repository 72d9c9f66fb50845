// Package cache defines the disk-backed media cache that stores finished
// chapter downloads as flat <StoragePath>/media_cache/<chapterId>.mp3 files.
// Writers go through <name>.tmp files that are renamed into place only after
// the body is complete, so a final-named file is never partial. The store
// enforces soft size/count limits through an oldest-mtime-first eviction pass
// that the downloader triggers after every completed transfer, and surfaces
// file info (size, modtime) for the queue and the control API.
package cache
