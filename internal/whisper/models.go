// Package whisper gates transcription options and runs whisper.cpp.
package whisper

import (
	"fmt"
	"strings"
)

// ModelInfo describes a ggml model the service knows how to load.
type ModelInfo struct {
	Name string
	// EnglishOnly models carry the ".en" suffix.
	EnglishOnly bool
	SizeMB      int
}

// FileName is the on-disk name whisper.cpp uses for the model.
func (m ModelInfo) FileName() string { return "ggml-" + m.Name + ".bin" }

var models = []ModelInfo{
	{Name: "tiny", SizeMB: 75},
	{Name: "tiny.en", EnglishOnly: true, SizeMB: 75},
	{Name: "base", SizeMB: 142},
	{Name: "base.en", EnglishOnly: true, SizeMB: 142},
	{Name: "small", SizeMB: 466},
	{Name: "small.en", EnglishOnly: true, SizeMB: 466},
	{Name: "medium", SizeMB: 1500},
	{Name: "medium.en", EnglishOnly: true, SizeMB: 1500},
}

// MultilingualModel is the only model accepted for non-English languages.
const MultilingualModel = "tiny"

func Lookup(name string) (ModelInfo, bool) {
	for _, m := range models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelInfo{}, false
}

func Models() []ModelInfo {
	out := make([]ModelInfo, len(models))
	copy(out, models)
	return out
}

// OptionError rejects a model/language combination. Message is safe to show
// to clients.
type OptionError struct {
	Message string
}

func (e *OptionError) Error() string { return e.Message }

// IsEnglish reports whether language selects the English path.
func IsEnglish(language string) bool {
	return strings.EqualFold(strings.TrimSpace(language), "en")
}

// CheckCompatibility rejects unknown models and languages, English-only
// models paired with another language and any model other than tiny for
// non-English languages. language may be a code or an English name.
func CheckCompatibility(model, language string) error {
	info, ok := Lookup(model)
	if !ok {
		return &OptionError{Message: fmt.Sprintf("Unsupported model: %s", model)}
	}
	if !validLanguage(LanguageCode(language)) {
		return &OptionError{Message: fmt.Sprintf("Unsupported language: %s", language)}
	}
	if IsEnglish(LanguageCode(language)) {
		return nil
	}
	if info.EnglishOnly {
		return &OptionError{Message: "English model cannot transcribe non-English languages"}
	}
	if info.Name != MultilingualModel {
		return &OptionError{Message: "Only tiny models are supported for non-English languages"}
	}
	return nil
}
