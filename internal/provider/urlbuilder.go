package provider

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// UpstreamURLBuilder merges adapter default query parameters with
// client-supplied ones into a deterministic upstream URL. A client value
// replaces the default for the same key, and a Multi value replaces a
// Single one entirely rather than appending to it.
type UpstreamURLBuilder struct {
	base     string
	defaults *QueryParams
	client   *QueryParams
}

func NewUpstreamURL(base string) *UpstreamURLBuilder {
	return &UpstreamURLBuilder{
		base:     base,
		defaults: &QueryParams{m: make(map[string]QueryValue)},
	}
}

func (b *UpstreamURLBuilder) Default(key, value string) *UpstreamURLBuilder {
	b.defaults.Set(key, Single(value))
	return b
}

func (b *UpstreamURLBuilder) DefaultMulti(key string, values ...string) *UpstreamURLBuilder {
	b.defaults.Set(key, Multi(values...))
	return b
}

func (b *UpstreamURLBuilder) ClientParams(qp *QueryParams) *UpstreamURLBuilder {
	b.client = qp
	return b
}

// Build parses the base URL, drops any query it carried, and encodes the
// merged parameter set sorted by key so identical inputs always produce
// byte-identical URLs.
func (b *UpstreamURLBuilder) Build() (*url.URL, error) {
	u, err := url.Parse(b.base)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base %q: %w", b.base, err)
	}

	merged := make(map[string]QueryValue)
	for _, key := range b.defaults.Keys() {
		v, _ := b.defaults.Get(key)
		merged[key] = v
	}
	if b.client != nil {
		for _, key := range b.client.Keys() {
			v, _ := b.client.Get(key)
			merged[key] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		for _, v := range merged[k].Values {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = sb.String()
	return u, nil
}

// passthroughReserved names client parameters already folded into
// ListenParams or consumed by the gateway itself. Forwarding them raw would
// clobber the query the adapter built from them.
var passthroughReserved = map[string]bool{
	"provider":           true,
	"raw":                true,
	"model":              true,
	"language":           true,
	"languages":          true,
	"keyword":            true,
	"keywords":           true,
	"keyterm":            true,
	"sample_rate":        true,
	"channels":           true,
	"redemption_time_ms": true,
}

// MergeClientQuery layers the client's pass-through parameters over the
// query an adapter built, so provider flags like smart_format reach the
// upstream without every adapter having to know about them. The adapter's
// values act as defaults; a client value for the same key wins.
func MergeClientQuery(u *url.URL, qp *QueryParams) (*url.URL, error) {
	if qp == nil {
		return u, nil
	}
	client := &QueryParams{m: make(map[string]QueryValue)}
	for _, key := range qp.Keys() {
		if passthroughReserved[strings.ToLower(key)] {
			continue
		}
		v, _ := qp.Get(key)
		client.Set(key, v)
	}
	if len(client.keys) == 0 {
		return u, nil
	}

	defaults, err := ParseQuery(u.RawQuery)
	if err != nil {
		return nil, err
	}
	b := NewUpstreamURL(u.String())
	for _, key := range defaults.Keys() {
		v, _ := defaults.Get(key)
		if v.Multi {
			b.DefaultMulti(key, v.Values...)
		} else {
			b.Default(key, v.First())
		}
	}
	return b.ClientParams(client).Build()
}

// wsScheme picks ws for loopback-style hosts and wss otherwise, matching
// how local acoustic services are addressed in development.
func wsScheme(host string) string {
	if strings.Contains(host, "localhost") ||
		strings.Contains(host, "127.0.0.1") ||
		strings.Contains(host, "0.0.0.0") {
		return "ws"
	}
	return "wss"
}
