package provider

import (
	"net/url"
	"strconv"
	"strings"
)

// ArgmaxAdapter fronts the in-house acoustic service, which speaks a
// Deepgram-compatible wire format on /listen.
type ArgmaxAdapter struct{}

func (ArgmaxAdapter) Provider() Provider { return Argmax }

func (ArgmaxAdapter) BuildWSURL(apiBase string, params ListenParams) (*url.URL, error) {
	base := apiBase
	if base == "" {
		base = Argmax.DefaultAPIBase()
	}
	u, err := listenEndpointURL(base)
	if err != nil {
		return nil, err
	}

	model := params.Model
	if model == "" {
		model = Argmax.DefaultLiveModel()
	}

	q := url.Values{}
	q.Set("model", model)
	q.Set("language", selectArgmaxLanguage(model, params.Languages))
	q.Set("sample_rate", strconv.Itoa(params.SampleRate))
	q.Set("channels", strconv.Itoa(params.Channels))
	q.Set("encoding", "linear16")
	u.RawQuery = q.Encode()
	u.Scheme = wsScheme(u.Host)
	return u, nil
}

// selectArgmaxLanguage picks the single language the acoustic model runs
// with. parakeet-v2 is English-only; parakeet-v3 has a fixed set and
// prefers a requested non-English member; other models take the first
// supported request, non-English preferred, defaulting to English.
func selectArgmaxLanguage(model string, langs []string) string {
	if strings.Contains(model, "parakeet-v2") {
		return "en"
	}

	if strings.Contains(model, "parakeet-v3") {
		for _, lang := range langs {
			if lang == "en" {
				continue
			}
			for _, supported := range ArgmaxV3Langs {
				if lang == supported {
					return lang
				}
			}
		}
		return "en"
	}

	var firstSupported string
	for _, lang := range langs {
		if !Argmax.LanguageSupport(lang).Supported() {
			continue
		}
		if firstSupported == "" {
			firstSupported = lang
		}
		if lang != "en" {
			return lang
		}
	}
	if firstSupported != "" {
		return firstSupported
	}
	return "en"
}

func (ArgmaxAdapter) InitialMessage(string, ListenParams) []byte { return nil }

func (ArgmaxAdapter) KeepAliveMessage() []byte {
	return []byte(`{"type":"KeepAlive"}`)
}

func (ArgmaxAdapter) FinalizeMessage() []byte {
	return []byte(`{"type":"Finalize"}`)
}

func (ArgmaxAdapter) ParseResponse(raw []byte) []StreamResponse {
	return DeepgramAdapter{}.ParseResponse(raw)
}
