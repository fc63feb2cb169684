package provider

import (
	"reflect"
	"testing"
)

func TestMinSupportWorstDominates(t *testing.T) {
	tests := []struct {
		name   string
		levels []LanguageSupport
		want   LanguageSupport
	}{
		{"empty_defaults_nodata", nil, SupportedNoData},
		{"single", []LanguageSupport{SupportedHigh}, SupportedHigh},
		{"worst_wins", []LanguageSupport{SupportedExcellent, SupportedModerate, SupportedHigh}, SupportedModerate},
		{"not_supported_dominates", []LanguageSupport{SupportedExcellent, NotSupported}, NotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MinSupport(tt.levels...); got != tt.want {
				t.Errorf("MinSupport = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSupportOrdering(t *testing.T) {
	order := []LanguageSupport{
		NotSupported, SupportedNoData, SupportedModerate,
		SupportedGood, SupportedHigh, SupportedExcellent,
	}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("ordering broken at index %d", i)
		}
	}
	if NotSupported.Supported() {
		t.Errorf("NotSupported.Supported() = true")
	}
	if !SupportedNoData.Supported() {
		t.Errorf("SupportedNoData.Supported() = false")
	}
}

func TestSupportsLanguagesEmptyMeansAutoDetect(t *testing.T) {
	for _, p := range AllProviders {
		if got := p.SupportsLanguages(nil); got != SupportedGood {
			t.Errorf("%s.SupportsLanguages(nil) = %v, want SupportedGood", p, got)
		}
	}
}

func TestSupportsLanguagesCombines(t *testing.T) {
	// Mistral has no Korean; adding it must sink the whole set.
	if got := Mistral.SupportsLanguages([]string{"en", "ko"}); got != NotSupported {
		t.Errorf("mistral en+ko = %v, want NotSupported", got)
	}
	if got := Soniox.SupportsLanguages([]string{"en", "ko"}); got != SupportedHigh {
		t.Errorf("soniox en+ko = %v, want SupportedHigh", got)
	}
}

func TestRouteChainQualityThenPriority(t *testing.T) {
	all := AllProviders

	tests := []struct {
		name  string
		langs []string
		want  []Provider
	}{
		{
			// Soniox is the only high-tier Korean engine; Deepgram and
			// Gladia tie at moderate and fall back to priority order.
			name:  "korean_prefers_soniox",
			langs: []string{"ko"},
			want:  []Provider{Soniox, Deepgram, Gladia, ElevenLabs},
		},
		{
			name:  "english_prefers_deepgram_on_tie",
			langs: []string{"en"},
			want:  []Provider{Deepgram, Soniox, AssemblyAI, Argmax, Gladia, ElevenLabs, Mistral},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RouteChain(tt.langs, all); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RouteChain(%v) = %v, want %v", tt.langs, got, tt.want)
			}
		})
	}
}

func TestRouteChainFiltersCandidates(t *testing.T) {
	got := RouteChain([]string{"ko"}, []Provider{Deepgram, Mistral})
	if want := []Provider{Deepgram}; !reflect.DeepEqual(got, want) {
		t.Errorf("RouteChain = %v, want %v", got, want)
	}
}
