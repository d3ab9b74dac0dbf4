package job

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-transcoder/internal/media"
	"github.com/tendant/simple-transcoder/internal/store"
	"github.com/tendant/simple-transcoder/internal/transcript"
	"github.com/tendant/simple-transcoder/internal/whisper"
	"github.com/tendant/simple-transcoder/pkg/schema"
)

type Kind = schema.JobKind

const (
	KindTranscode  = schema.JobKindTranscode
	KindTranscribe = schema.JobKindTranscribe
)

const (
	DefaultCodec            = "copy"
	DefaultModel            = "base"
	DefaultLanguage         = "en"
	DefaultTranscriptFormat = "srt"
)

// Request is one accepted client message. It is not modified once built.
type Request struct {
	Kind         Kind
	FileID       string
	Filename     string
	OutputFormat string

	// transcode
	VideoCodec string
	AudioCodec string

	// transcribe
	Model    string
	Language string
}

// NewRequest applies the per-kind defaults to a client message.
func NewRequest(kind Kind, msg schema.JobRequest) Request {
	r := Request{
		Kind:         kind,
		FileID:       strings.TrimSpace(msg.FileID),
		Filename:     strings.TrimSpace(msg.Filename),
		OutputFormat: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(msg.OutputFormat), ".")),
	}
	switch kind {
	case KindTranscode:
		r.VideoCodec = orDefault(msg.VideoCodec, DefaultCodec)
		r.AudioCodec = orDefault(msg.AudioCodec, DefaultCodec)
	case KindTranscribe:
		r.Model = orDefault(msg.Model, DefaultModel)
		r.Language = whisper.LanguageCode(orDefault(msg.Language, DefaultLanguage))
		if r.OutputFormat == "" {
			r.OutputFormat = DefaultTranscriptFormat
		}
	}
	return r
}

func orDefault(v, d string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return d
}

// OutputName is the file the job writes next to its source.
func (r Request) OutputName() string {
	return strings.TrimSuffix(r.Filename, filepath.Ext(r.Filename)) + "." + r.OutputFormat
}

// Validate checks the request shape and option compatibility. It returns a
// *Failure of type validation.
func (r Request) Validate() error {
	if r.Kind != KindTranscode && r.Kind != KindTranscribe {
		return invalid(fmt.Sprintf("Unknown job kind: %s", r.Kind), nil)
	}
	if err := store.ValidateID(r.FileID); err != nil {
		return invalid("Invalid fileID", err)
	}
	if err := store.ValidateName(r.Filename); err != nil {
		return invalid("Invalid filename", err)
	}
	if !token(r.OutputFormat, false) {
		return invalid("Invalid output format", nil)
	}

	switch r.Kind {
	case KindTranscode:
		if !token(r.VideoCodec, true) || !token(r.AudioCodec, true) {
			return invalid("Invalid codec", nil)
		}
		if r.OutputFormat == media.Extension(r.Filename) {
			return invalid("Output format must differ from the input format", nil)
		}
	case KindTranscribe:
		if err := whisper.CheckCompatibility(r.Model, r.Language); err != nil {
			return invalid(err.Error(), err)
		}
		if !transcript.Supported(r.OutputFormat) {
			return invalid(fmt.Sprintf("Unsupported transcript format: %s (supported: %s)", r.OutputFormat, strings.Join(transcript.Formats(), ", ")), nil)
		}
	}
	return nil
}

// token accepts short identifiers that cannot be mistaken for tool flags.
func token(s string, allowPunct bool) bool {
	if s == "" || len(s) > 32 || s[0] == '-' {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case allowPunct && (c == '_' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
