package ffmpeg

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
)

// EndSentinel is the value of the "progress" key in ffmpeg's final block.
const EndSentinel = "end"

var ErrMalformedLine = errors.New("malformed progress line")

// Update is one emission of the progress stream. Err is set for lines the
// parser could not use; such updates carry no percent.
type Update struct {
	Percent float64
	Raw     map[string]string
	End     bool
	Err     error
}

// Parser folds ffmpeg -progress key=value lines into updates. Keys accumulate
// across blocks; only the "progress" key produces an update.
type Parser struct {
	duration float64
	percent  float64
	raw      map[string]string
}

// NewParser returns a parser for a source of the given length in seconds. A
// non-positive duration leaves the percent at zero.
func NewParser(duration float64) *Parser {
	return &Parser{duration: duration, raw: make(map[string]string)}
}

// Feed consumes one line. The boolean reports whether an update was produced.
func (p *Parser) Feed(line string) (Update, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Update{}, false, nil
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return Update{}, false, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	p.raw[key] = value

	switch key {
	case "out_time":
		secs, err := ParseOutTime(value)
		if err != nil {
			return Update{}, false, err
		}
		p.percent = p.percentOf(secs)
	case "progress":
		return Update{
			Percent: p.percent,
			Raw:     maps.Clone(p.raw),
			End:     value == EndSentinel,
		}, true, nil
	}
	return Update{}, false, nil
}

func (p *Parser) percentOf(secs float64) float64 {
	if p.duration <= 0 {
		return 0
	}
	pct := secs / p.duration * 100
	if math.IsNaN(pct) {
		return 0
	}
	return min(100, max(0, pct))
}

// ParseOutTime parses ffmpeg's [-]HH:MM:SS.ffffff timestamp into seconds.
func ParseOutTime(v string) (float64, error) {
	s := strings.TrimSpace(v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("parse out_time %q: want HH:MM:SS", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("parse out_time %q: %w", v, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("parse out_time %q: %w", v, err)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("parse out_time %q: %w", v, err)
	}
	if math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0, fmt.Errorf("parse out_time %q: seconds not finite", v)
	}
	total := float64(h)*3600 + float64(m)*60 + sec
	if neg {
		total = -total
	}
	return total, nil
}
