package whisper

import "strings"

// languages maps the codes whisper.cpp accepts to their English names.
var languages = map[string]string{
	"en": "english", "zh": "chinese", "de": "german", "es": "spanish",
	"ru": "russian", "ko": "korean", "fr": "french", "ja": "japanese",
	"pt": "portuguese", "tr": "turkish", "pl": "polish", "ca": "catalan",
	"nl": "dutch", "ar": "arabic", "sv": "swedish", "it": "italian",
	"id": "indonesian", "hi": "hindi", "fi": "finnish", "vi": "vietnamese",
	"he": "hebrew", "uk": "ukrainian", "el": "greek", "ms": "malay",
	"cs": "czech", "ro": "romanian", "da": "danish", "hu": "hungarian",
	"ta": "tamil", "no": "norwegian", "th": "thai", "ur": "urdu",
	"hr": "croatian", "bg": "bulgarian", "lt": "lithuanian", "la": "latin",
	"mi": "maori", "ml": "malayalam", "cy": "welsh", "sk": "slovak",
	"te": "telugu", "fa": "persian", "lv": "latvian", "bn": "bengali",
	"sr": "serbian", "az": "azerbaijani", "sl": "slovenian", "kn": "kannada",
	"et": "estonian", "mk": "macedonian", "br": "breton", "eu": "basque",
	"is": "icelandic", "hy": "armenian", "ne": "nepali", "mn": "mongolian",
	"bs": "bosnian", "kk": "kazakh", "sq": "albanian", "sw": "swahili",
	"gl": "galician", "mr": "marathi", "pa": "punjabi", "si": "sinhala",
	"km": "khmer", "sn": "shona", "yo": "yoruba", "so": "somali",
	"af": "afrikaans", "oc": "occitan", "ka": "georgian", "be": "belarusian",
	"tg": "tajik", "sd": "sindhi", "gu": "gujarati", "am": "amharic",
	"yi": "yiddish", "lo": "lao", "uz": "uzbek", "fo": "faroese",
	"ht": "haitian creole", "ps": "pashto", "tk": "turkmen", "nn": "nynorsk",
	"mt": "maltese", "sa": "sanskrit", "lb": "luxembourgish", "my": "myanmar",
	"bo": "tibetan", "tl": "tagalog", "mg": "malagasy", "as": "assamese",
	"tt": "tatar", "haw": "hawaiian", "ln": "lingala", "ha": "hausa",
	"ba": "bashkir", "jw": "javanese", "su": "sundanese", "yue": "cantonese",
}

// aliases are alternative names whisper also resolves.
var aliases = map[string]string{
	"burmese":       "my",
	"valencian":     "ca",
	"flemish":       "nl",
	"haitian":       "ht",
	"letzeburgesch": "lb",
	"pushto":        "ps",
	"panjabi":       "pa",
	"moldavian":     "ro",
	"moldovan":      "ro",
	"sinhalese":     "si",
	"castilian":     "es",
	"mandarin":      "zh",
}

var codesByName = func() map[string]string {
	m := make(map[string]string, len(languages)+len(aliases))
	for code, name := range languages {
		m[name] = code
	}
	for name, code := range aliases {
		m[name] = code
	}
	return m
}()

// LanguageCode normalizes a language given as a code or an English name
// ("French", "fr") to its lower-case code. Unknown input is returned
// lower-cased so CheckCompatibility can reject it.
func LanguageCode(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if code, ok := codesByName[l]; ok {
		return code
	}
	return l
}

func validLanguage(code string) bool {
	_, ok := languages[code]
	return ok
}
