// Package transcript holds speech-to-text results and writes them as text,
// subtitles or JSON.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

type Transcript struct {
	Language string
	Segments []Segment
}

// Text joins all segment texts with single spaces.
func (t *Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}

type writerFunc func(w io.Writer, t *Transcript) error

var writers = map[string]writerFunc{
	"txt":  writeTXT,
	"srt":  writeSRT,
	"vtt":  writeVTT,
	"tsv":  writeTSV,
	"json": writeJSON,
}

// Formats lists the supported output formats, sorted.
func Formats() []string {
	out := make([]string, 0, len(writers))
	for f := range writers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

func Supported(format string) bool {
	_, ok := writers[format]
	return ok
}

// Write encodes t in format to w.
func Write(w io.Writer, format string, t *Transcript) error {
	fn, ok := writers[format]
	if !ok {
		return fmt.Errorf("unsupported transcript format %q", format)
	}
	return fn(w, t)
}

// WriteFile writes t next to the source as <source base>.<format> inside dir
// and returns the file name it wrote.
func WriteFile(dir, sourceName, format string, t *Transcript) (string, error) {
	if !Supported(format) {
		return "", fmt.Errorf("unsupported transcript format %q", format)
	}
	name := strings.TrimSuffix(sourceName, filepath.Ext(sourceName)) + "." + format

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}
	if err := Write(f, format, t); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close transcript: %w", err)
	}
	return name, nil
}

func writeTXT(w io.Writer, t *Transcript) error {
	for _, s := range t.Segments {
		if _, err := fmt.Fprintln(w, strings.TrimSpace(s.Text)); err != nil {
			return err
		}
	}
	return nil
}

func writeSRT(w io.Writer, t *Transcript) error {
	for i, s := range t.Segments {
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			i+1, timestamp(s.Start, ","), timestamp(s.End, ","), cueText(s.Text))
		if err != nil {
			return err
		}
	}
	return nil
}

func writeVTT(w io.Writer, t *Transcript) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for _, s := range t.Segments {
		_, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n",
			timestamp(s.Start, "."), timestamp(s.End, "."), cueText(s.Text))
		if err != nil {
			return err
		}
	}
	return nil
}

func writeTSV(w io.Writer, t *Transcript) error {
	if _, err := io.WriteString(w, "start\tend\ttext\n"); err != nil {
		return err
	}
	for _, s := range t.Segments {
		text := strings.ReplaceAll(strings.TrimSpace(s.Text), "\t", " ")
		if _, err := fmt.Fprintf(w, "%d\t%d\t%s\n", s.Start.Milliseconds(), s.End.Milliseconds(), text); err != nil {
			return err
		}
	}
	return nil
}

type jsonSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type jsonTranscript struct {
	Language string        `json:"language,omitempty"`
	Text     string        `json:"text"`
	Segments []jsonSegment `json:"segments"`
}

func writeJSON(w io.Writer, t *Transcript) error {
	doc := jsonTranscript{Language: t.Language, Text: t.Text(), Segments: make([]jsonSegment, 0, len(t.Segments))}
	for _, s := range t.Segments {
		doc.Segments = append(doc.Segments, jsonSegment{
			Start: s.Start.Seconds(),
			End:   s.End.Seconds(),
			Text:  strings.TrimSpace(s.Text),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// timestamp formats d as HH:MM:SS<sep>mmm.
func timestamp(d time.Duration, sep string) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}

// cueText keeps a cue from terminating early on an arrow or blank line.
func cueText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "-->", "->")
	return strings.ReplaceAll(s, "\n\n", "\n")
}
