package volume

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rockup/rockup/project"
)

// packedExtensions are file extensions the corpus already knows tend
// to be pre-compressed: audio, video, image, archive, and office
// formats (the office formats are themselves zip containers).
// Grounded on mmp-bk/cmd/bk/backup.go's isChunkReuseUnlikely, extended
// with the office/archive families spec.md §4.C calls out by name.
var packedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".raw": true,
	".arw": true, ".nef": true, ".cr2": true,
	".mp3": true, ".aac": true, ".ogg": true, ".m4a": true, ".flac": true, ".wma": true,
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true, ".wmv": true, ".flv": true,
	".mpg": true, ".mpeg": true, ".webm": true,
	".zip": true, ".gz": true, ".tgz": true, ".7z": true, ".rar": true, ".bz2": true, ".xz": true,
	".docx": true, ".xlsx": true, ".pptx": true, ".odt": true, ".ods": true, ".odp": true,
}

// packedPathPatterns matches internal paths that are already
// compressed regardless of extension, e.g. loose git objects.
var packedPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)\.git/objects/`),
}

// ratio implements spec.md §4.C's ratio(path): 1.05 for paths that
// already look compressed, 0.5 otherwise.
func ratio(path string) float64 {
	ext := strings.ToLower(filepath.Ext(path))
	if packedExtensions[ext] {
		return 1.05
	}
	for _, re := range packedPathPatterns {
		if re.MatchString(path) {
			return 1.05
		}
	}
	return 0.5
}

// EstimatedCompressedSize returns size * ratio(path), the quantity
// spec.md §4.C's compressible? heuristic and §4.E's planning step both
// key off of. The orchestrator uses this directly to sort and bucket
// backup candidates before any volume exists.
func EstimatedCompressedSize(size int64, path string) float64 {
	return float64(size) * ratio(path)
}

// Compressible implements spec.md §4.C's compressible? predicate: true
// iff compressing is expected to shrink the file past gzip's minimum
// overhead, modeled as 18 bytes plus the length of the stream name
// plus one.
func Compressible(size int64, path, streamName string) bool {
	s := float64(size)
	r := ratio(path)
	overhead := 18.0 + float64(len(streamName)) + 1.0
	return s*r+overhead < s
}

// chooseCompressor applies Project's CompressionPolicy to decide
// whether a given file's stream should be gzip-compressed.
func chooseCompressor(policy project.CompressionPolicy, size int64, path, streamName string) project.Compressor {
	switch policy {
	case project.CompressionEnforce:
		return project.CompressorGzip
	case project.CompressionDisable:
		return project.CompressorNone
	default: // project.CompressionAuto
		if Compressible(size, path, streamName) {
			return project.CompressorGzip
		}
		return project.CompressorNone
	}
}
