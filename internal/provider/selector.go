package provider

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNotConfigured   = errors.New("provider not configured")
	ErrNoProvider      = errors.New("no provider available")
)

// Registry holds the deployment's provider credentials and endpoint
// overrides. It is built once at startup and read-only afterwards.
type Registry struct {
	keys        map[Provider]string
	wsOverrides map[Provider]string
	defaultProv Provider
	hasDefault  bool
}

func NewRegistry(keys map[Provider]string, wsOverrides map[Provider]string) *Registry {
	r := &Registry{
		keys:        make(map[Provider]string, len(keys)),
		wsOverrides: make(map[Provider]string, len(wsOverrides)),
	}
	for p, k := range keys {
		if k != "" {
			r.keys[p] = k
		}
	}
	for p, u := range wsOverrides {
		if u != "" {
			r.wsOverrides[p] = u
		}
	}
	return r
}

// SetDefault picks the provider used when a session names none.
func (r *Registry) SetDefault(p Provider) {
	r.defaultProv = p
	r.hasDefault = true
}

func (r *Registry) APIKey(p Provider) string { return r.keys[p] }

// Configured reports whether p can actually be dialed: it needs an API key
// unless its endpoint was overridden to a self-hosted one, and Argmax is a
// keyless local service to begin with.
func (r *Registry) Configured(p Provider) bool {
	if r.keys[p] != "" {
		return true
	}
	if r.wsOverrides[p] != "" {
		return true
	}
	return p == Argmax
}

// ConfiguredProviders returns the usable providers in canonical order.
func (r *Registry) ConfiguredProviders() []Provider {
	var out []Provider
	for _, p := range AllProviders {
		if r.Configured(p) {
			out = append(out, p)
		}
	}
	return out
}

// WSBase returns the real-time endpoint for p, honoring overrides.
func (r *Registry) WSBase(p Provider) string {
	if u := r.wsOverrides[p]; u != "" {
		return u
	}
	return p.DefaultWSURL()
}

// Selected is an immutable resolution of a session request to a concrete
// provider, its credential, and its endpoint.
type Selected struct {
	Provider Provider
	APIKey   string
	WSBase   string
}

// Select resolves the "provider" query parameter. A missing value falls
// back to the deployment default, "auto" routes by language support, and
// anything unknown or unconfigured fails before any dial is attempted.
func (r *Registry) Select(qp *QueryParams) (Selected, error) {
	name := qp.First("provider")

	var p Provider
	switch {
	case name == "auto":
		chain := RouteChain(qp.Languages(), r.ConfiguredProviders())
		if len(chain) == 0 {
			return Selected{}, fmt.Errorf("%w for languages %v", ErrNoProvider, qp.Languages())
		}
		p = chain[0]
	case name == "":
		if !r.hasDefault {
			return Selected{}, fmt.Errorf("%w: no provider requested and no default set", ErrNoProvider)
		}
		p = r.defaultProv
	default:
		parsed, err := Parse(name)
		if err != nil {
			return Selected{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
		p = parsed
	}

	if !r.Configured(p) {
		return Selected{}, fmt.Errorf("%w: %s", ErrNotConfigured, p)
	}
	return Selected{Provider: p, APIKey: r.keys[p], WSBase: r.WSBase(p)}, nil
}
