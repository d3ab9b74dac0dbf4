// pkg/schema/events.go
package schema

import "encoding/json"

// Status tags the three event shapes a job emits.
type Status string

const (
	StatusProgress Status = "progress"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// Event is one message in a job's event sequence. A job emits zero or more
// progress events followed by exactly one success or error event.
type Event struct {
	Status Status

	// Progress fields. Raw carries the tool-native keys (ffmpeg -progress).
	Percent float64
	Raw     map[string]string

	Message string

	// Success fields.
	OutputFilename string
	OutputFormat   string
	FileID         string
}

func Progress(percent float64, raw map[string]string) Event {
	return Event{Status: StatusProgress, Percent: percent, Raw: raw}
}

// ProgressMessage is a progress event with a human readable note attached.
func ProgressMessage(percent float64, message string) Event {
	return Event{Status: StatusProgress, Percent: percent, Message: message}
}

func Success(message, filename, format, fileID string) Event {
	return Event{
		Status:         StatusSuccess,
		Message:        message,
		OutputFilename: filename,
		OutputFormat:   format,
		FileID:         fileID,
	}
}

func Failure(message string) Event {
	return Event{Status: StatusError, Message: message}
}

// Terminal reports whether the event ends a job's sequence.
func (e Event) Terminal() bool {
	return e.Status == StatusSuccess || e.Status == StatusError
}

// MarshalJSON writes the flat wire shape. Raw keys are merged into the
// object; ffmpeg's own "progress" key would shadow the numeric percent, so it
// is renamed to "progress_state". Raw keys never replace status or message.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Raw)+4)
	switch e.Status {
	case StatusProgress:
		for k, v := range e.Raw {
			if k == "progress" {
				k = "progress_state"
			}
			out[k] = v
		}
		out["progress"] = e.Percent
		if e.Message != "" {
			out["message"] = e.Message
		}
	case StatusSuccess:
		out["message"] = e.Message
		if e.OutputFormat != "" {
			out["output_format"] = e.OutputFormat
		}
		if e.FileID != "" {
			out["fileID"] = e.FileID
		}
		if e.OutputFilename != "" {
			out["filename"] = e.OutputFilename
		}
	default:
		out["message"] = e.Message
	}
	out["status"] = e.Status
	return json.Marshal(out)
}

// JobRequest is the message a client sends to start a job.
type JobRequest struct {
	Filename     string `json:"filename"`
	FileID       string `json:"fileID"`
	OutputFormat string `json:"output_format,omitempty"`
	VideoCodec   string `json:"video_codec,omitempty"`
	AudioCodec   string `json:"audio_codec,omitempty"`
	Model        string `json:"model,omitempty"`
	Language     string `json:"language,omitempty"`
}

type JobKind string

const (
	JobKindTranscode  JobKind = "transcode"
	JobKindTranscribe JobKind = "transcribe"
)

type FailureType string

const (
	FailureTypeValidation  FailureType = "validation"
	FailureTypeUnsupported FailureType = "unsupported_media"
	FailureTypeTool        FailureType = "tool_failure"
	FailureTypeTimeout     FailureType = "timeout"
	FailureTypeIO          FailureType = "io"
	FailureTypeCanceled    FailureType = "canceled"
)

// JobCompleted is the audit record published once per finished job.
type JobCompleted struct {
	JobID            string      `json:"job_id"`
	Kind             JobKind     `json:"kind"`
	FileID           string      `json:"file_id"`
	Filename         string      `json:"filename"`
	OutputFormat     string      `json:"output_format,omitempty"`
	Status           string      `json:"status"`
	OutputFilename   string      `json:"output_filename,omitempty"`
	ProgressEvents   int         `json:"progress_events"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	Error            string      `json:"error,omitempty"`
	FailureType      FailureType `json:"failure_type,omitempty"`
	HappenedAt       int64       `json:"happened_at"`
}
