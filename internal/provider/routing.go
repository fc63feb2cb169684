package provider

import "sort"

// routePriority breaks quality ties when routing automatically. Lower is
// preferred. Argmax is last: it is a local fallback, not a routing target.
var routePriority = map[Provider]int{
	Deepgram:   0,
	Soniox:     1,
	AssemblyAI: 2,
	Gladia:     3,
	ElevenLabs: 4,
	Mistral:    5,
	Argmax:     6,
}

// RouteChain orders the candidate providers for a language set: providers
// that support every requested language, best combined quality first,
// fixed priority as the tiebreak. Unsupportive candidates are dropped.
func RouteChain(langs []string, candidates []Provider) []Provider {
	type scored struct {
		p Provider
		s LanguageSupport
	}
	var eligible []scored
	for _, p := range candidates {
		if s := p.SupportsLanguages(langs); s.Supported() {
			eligible = append(eligible, scored{p, s})
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].s != eligible[j].s {
			return eligible[i].s > eligible[j].s
		}
		return routePriority[eligible[i].p] < routePriority[eligible[j].p]
	})

	out := make([]Provider, len(eligible))
	for i, e := range eligible {
		out[i] = e.p
	}
	return out
}
