package provider

// LanguageSupport ranks how well a provider handles a language. The zero
// value means not supported at all; higher is better. NotSupported dominates
// when combining, so a set of languages is only as good as its worst member.
type LanguageSupport int

const (
	NotSupported LanguageSupport = iota
	SupportedNoData
	SupportedModerate
	SupportedGood
	SupportedHigh
	SupportedExcellent
)

func (s LanguageSupport) Supported() bool { return s > NotSupported }

// MinSupport returns the worst support level in the set.
func MinSupport(levels ...LanguageSupport) LanguageSupport {
	if len(levels) == 0 {
		return SupportedNoData
	}
	min := levels[0]
	for _, l := range levels[1:] {
		if l < min {
			min = l
		}
	}
	return min
}

// Per-provider quality tables. Languages absent from a table fall back to
// the provider's default tier (broad-coverage engines accept most codes at
// a low-confidence tier, fixed-vocabulary engines reject them).

var deepgramLangs = map[string]LanguageSupport{
	"en": SupportedExcellent, "es": SupportedHigh, "fr": SupportedHigh,
	"de": SupportedHigh, "pt": SupportedHigh, "nl": SupportedGood,
	"it": SupportedGood, "hi": SupportedGood, "ru": SupportedGood,
	"ja": SupportedModerate, "ko": SupportedModerate, "zh": SupportedModerate,
	"sv": SupportedGood, "da": SupportedGood, "no": SupportedGood,
	"pl": SupportedGood, "tr": SupportedModerate, "uk": SupportedModerate,
}

var sonioxLangs = map[string]LanguageSupport{
	"en": SupportedExcellent, "es": SupportedExcellent, "fr": SupportedHigh,
	"de": SupportedHigh, "pt": SupportedHigh, "it": SupportedHigh,
	"nl": SupportedHigh, "ja": SupportedHigh, "ko": SupportedHigh,
	"zh": SupportedHigh, "hi": SupportedGood, "ru": SupportedGood,
	"uk": SupportedGood, "pl": SupportedGood, "tr": SupportedGood,
	"vi": SupportedGood, "th": SupportedGood, "ar": SupportedGood,
}

var assemblyaiLangs = map[string]LanguageSupport{
	"en": SupportedExcellent, "es": SupportedGood, "fr": SupportedGood,
	"de": SupportedGood, "it": SupportedModerate, "pt": SupportedModerate,
	"nl": SupportedModerate,
}

var elevenlabsLangs = map[string]LanguageSupport{
	"en": SupportedHigh, "es": SupportedGood, "fr": SupportedGood,
	"de": SupportedGood, "pt": SupportedGood, "it": SupportedGood,
	"pl": SupportedGood, "hi": SupportedModerate, "ja": SupportedModerate,
}

var gladiaLangs = map[string]LanguageSupport{
	"en": SupportedHigh, "es": SupportedHigh, "fr": SupportedHigh,
	"de": SupportedGood, "pt": SupportedGood, "it": SupportedGood,
	"nl": SupportedGood, "ja": SupportedModerate, "ko": SupportedModerate,
}

var mistralLangs = map[string]LanguageSupport{
	"en": SupportedHigh, "fr": SupportedHigh, "es": SupportedGood,
	"de": SupportedGood, "it": SupportedGood, "pt": SupportedGood,
	"nl": SupportedModerate,
}

// ArgmaxV3Langs is the fixed language set of the parakeet-v3 acoustic model.
var ArgmaxV3Langs = []string{
	"en", "es", "fr", "de", "it", "pt", "nl", "pl", "sv", "da",
	"no", "fi", "cs", "sk", "hu", "ro", "bg", "hr", "el", "et",
	"lv", "lt", "mt", "uk", "ru",
}

var argmaxLangs = func() map[string]LanguageSupport {
	m := make(map[string]LanguageSupport, len(ArgmaxV3Langs))
	for _, code := range ArgmaxV3Langs {
		m[code] = SupportedGood
	}
	m["en"] = SupportedExcellent
	return m
}()

// LanguageSupport reports how well p handles a single language code.
func (p Provider) LanguageSupport(lang string) LanguageSupport {
	var table map[string]LanguageSupport
	var fallback LanguageSupport

	switch p {
	case Deepgram:
		table, fallback = deepgramLangs, SupportedNoData
	case Soniox:
		table, fallback = sonioxLangs, SupportedNoData
	case AssemblyAI:
		table, fallback = assemblyaiLangs, NotSupported
	case ElevenLabs:
		table, fallback = elevenlabsLangs, SupportedNoData
	case Gladia:
		table, fallback = gladiaLangs, SupportedNoData
	case Mistral:
		table, fallback = mistralLangs, NotSupported
	case Argmax:
		table, fallback = argmaxLangs, NotSupported
	default:
		panic("unreachable")
	}

	if s, ok := table[lang]; ok {
		return s
	}
	return fallback
}

// SupportsLanguages combines support across a requested set. An empty set
// means auto-detect, which every provider handles at a middling tier.
func (p Provider) SupportsLanguages(langs []string) LanguageSupport {
	if len(langs) == 0 {
		return SupportedGood
	}
	levels := make([]LanguageSupport, len(langs))
	for i, lang := range langs {
		levels[i] = p.LanguageSupport(lang)
	}
	return MinSupport(levels...)
}
