package provider

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ListenParams is the normalized session configuration adapters build
// upstream requests from.
type ListenParams struct {
	Model            string
	Languages        []string // ISO 639-1 codes, client order preserved
	Keywords         []string
	SampleRate       int
	Channels         int
	RedemptionTimeMS int
}

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
)

// QueryValue is a single- or multi-valued query parameter. Repeating a key
// in the raw query produces a Multi value.
type QueryValue struct {
	Values []string
	Multi  bool
}

func Single(v string) QueryValue   { return QueryValue{Values: []string{v}} }
func Multi(v ...string) QueryValue { return QueryValue{Values: v, Multi: true} }

func (v QueryValue) First() string {
	if len(v.Values) == 0 {
		return ""
	}
	return v.Values[0]
}

// QueryParams preserves the insertion order and case of client query
// parameters, unlike url.Values which loses both guarantees on iteration.
type QueryParams struct {
	keys []string
	m    map[string]QueryValue
}

// ParseQuery decodes a raw query string. Keys keep their original case and
// first-seen order; repeated keys collapse into one Multi value.
func ParseQuery(rawQuery string) (*QueryParams, error) {
	qp := &QueryParams{m: make(map[string]QueryValue)}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, val, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("parse query key %q: %w", key, err)
		}
		v, err := url.QueryUnescape(val)
		if err != nil {
			return nil, fmt.Errorf("parse query value for %q: %w", k, err)
		}
		if existing, ok := qp.m[k]; ok {
			existing.Values = append(existing.Values, v)
			existing.Multi = true
			qp.m[k] = existing
			continue
		}
		qp.keys = append(qp.keys, k)
		qp.m[k] = Single(v)
	}
	return qp, nil
}

func (qp *QueryParams) Get(key string) (QueryValue, bool) {
	v, ok := qp.m[key]
	return v, ok
}

func (qp *QueryParams) First(key string) string {
	return qp.m[key].First()
}

func (qp *QueryParams) All(key string) []string {
	return qp.m[key].Values
}

func (qp *QueryParams) Set(key string, value QueryValue) {
	if _, ok := qp.m[key]; !ok {
		qp.keys = append(qp.keys, key)
	}
	qp.m[key] = value
}

func (qp *QueryParams) Delete(key string) {
	if _, ok := qp.m[key]; !ok {
		return
	}
	delete(qp.m, key)
	for i, k := range qp.keys {
		if k == key {
			qp.keys = append(qp.keys[:i], qp.keys[i+1:]...)
			break
		}
	}
}

// Keys returns parameter names in insertion order.
func (qp *QueryParams) Keys() []string {
	out := make([]string, len(qp.keys))
	copy(out, qp.keys)
	return out
}

// Languages collects language codes from both the "language" and
// "languages" parameters, client order preserved, duplicates dropped.
func (qp *QueryParams) Languages() []string {
	var out []string
	seen := make(map[string]bool)
	for _, key := range []string{"language", "languages"} {
		for _, raw := range qp.All(key) {
			for _, code := range strings.Split(raw, ",") {
				code = strings.ToLower(strings.TrimSpace(code))
				if code == "" || code == "auto" || seen[code] {
					continue
				}
				seen[code] = true
				out = append(out, code)
			}
		}
	}
	return out
}

// Keywords collects boost terms from the keyword-family parameters.
// Single values are comma-split, multi values are taken as-is.
func (qp *QueryParams) Keywords() []string {
	var out []string
	for _, key := range []string{"keyword", "keywords", "keyterm"} {
		v, ok := qp.Get(key)
		if !ok {
			continue
		}
		for _, raw := range v.Values {
			if v.Multi {
				if kw := strings.TrimSpace(raw); kw != "" {
					out = append(out, kw)
				}
				continue
			}
			for _, kw := range strings.Split(raw, ",") {
				if kw = strings.TrimSpace(kw); kw != "" {
					out = append(out, kw)
				}
			}
		}
	}
	return out
}

func (qp *QueryParams) intOr(key string, fallback int) int {
	raw := qp.First(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// ListenParams normalizes the client query into session parameters,
// applying the gateway defaults for anything unspecified.
func (qp *QueryParams) ListenParams() ListenParams {
	p := ListenParams{
		Model:      qp.First("model"),
		Languages:  qp.Languages(),
		Keywords:   qp.Keywords(),
		SampleRate: qp.intOr("sample_rate", defaultSampleRate),
		Channels:   qp.intOr("channels", defaultChannels),
	}
	if ms := qp.intOr("redemption_time_ms", 0); ms > 0 {
		p.RedemptionTimeMS = ms
	}
	return p
}
