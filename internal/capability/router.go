package capability

import (
	"errors"
	"fmt"
	"sort"

	"github.com/michaelbrown/notemind/internal/llm"
)

var (
	ErrUnknownCapability = errors.New("capability not in scheme")
	ErrUnregistered      = errors.New("provider not registered")
)

// Resolution is the provider and tier serving a capability.
type Resolution struct {
	Provider llm.Provider
	Tier     llm.Tier
}

// Router resolves capabilities against a scheme. It is read-only after
// construction and safe for concurrent use.
type Router struct {
	scheme    Scheme
	providers map[string]llm.Provider
}

// NewRouter creates a router. Providers are keyed by their scheme id.
func NewRouter(scheme Scheme, providers map[string]llm.Provider) *Router {
	ps := make(map[string]llm.Provider, len(providers))
	for k, v := range providers {
		ps[k] = v
	}
	sc := make(Scheme, len(scheme))
	for k, v := range scheme {
		sc[k] = v
	}
	return &Router{scheme: sc, providers: ps}
}

// Resolve returns the binding for name. Failures are configuration bugs and
// name the capability.
func (r *Router) Resolve(name Name) (Resolution, error) {
	b, ok := r.scheme[name]
	if !ok {
		return Resolution{}, &llm.ConfigError{Capability: string(name), Err: ErrUnknownCapability}
	}
	p, ok := r.providers[b.Provider]
	if !ok {
		return Resolution{}, &llm.ConfigError{
			Capability: string(name),
			Provider:   b.Provider,
			Err:        fmt.Errorf("%w: %q", ErrUnregistered, b.Provider),
		}
	}
	return Resolution{Provider: p, Tier: b.Tier}, nil
}

// Validate resolves every capability in the scheme and joins the failures.
func (r *Router) Validate() error {
	var errs []error
	for _, e := range r.Table() {
		if _, err := r.Resolve(e.Capability); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Entry is one row of the resolved scheme.
type Entry struct {
	Capability Name     `json:"capability"`
	Provider   string   `json:"provider"`
	Tier       llm.Tier `json:"tier"`
}

// Table returns the scheme sorted by capability name.
func (r *Router) Table() []Entry {
	out := make([]Entry, 0, len(r.scheme))
	for name, b := range r.scheme {
		out = append(out, Entry{Capability: name, Provider: b.Provider, Tier: b.Tier})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}
