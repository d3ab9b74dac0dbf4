// Package media maps file names to content types and media kinds.
package media

import (
	"path/filepath"
	"sort"
	"strings"
)

// Kind is the closed set of media categories a job can act on.
type Kind string

const (
	Unknown Kind = ""
	Image   Kind = "image"
	Video   Kind = "video"
	Audio   Kind = "audio"
)

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",

	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".flv":  "video/x-flv",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".wmv":  "video/x-ms-wmv",
	".3gp":  "video/3gpp",
	".ts":   "video/mp2t",

	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wma":  "audio/x-ms-wma",
}

var kindsByType = map[string]Kind{
	"image": Image,
	"video": Video,
	"audio": Audio,
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// ContentType returns the content type for name, or "" when the extension is
// not in the table.
func ContentType(name string) string {
	return contentTypes[strings.ToLower(filepath.Ext(name))]
}

// KindOf maps a content type to its media kind.
func KindOf(contentType string) Kind {
	top, _, _ := strings.Cut(strings.ToLower(contentType), "/")
	return kindsByType[top]
}

func Classify(name string) Kind {
	return KindOf(ContentType(name))
}

// Extensions lists the known extensions of kind k, sorted, without dots.
func Extensions(k Kind) []string {
	var out []string
	for ext, ct := range contentTypes {
		if KindOf(ct) == k {
			out = append(out, strings.TrimPrefix(ext, "."))
		}
	}
	sort.Strings(out)
	return out
}
