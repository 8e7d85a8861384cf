// Package capability maps named points of LLM use to a provider and tier.
package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/michaelbrown/notemind/internal/llm"
)

// Name identifies a capability.
type Name string

const (
	Chat           Name = "chat"
	AgentReasoning Name = "agent_reasoning"
	Moderator      Name = "moderator"
	Summary        Name = "summary"
	Title          Name = "title"
	PulseReport    Name = "pulseReport"
	WikiEntry      Name = "wikiEntry"
	DebateTurn     Name = "debateTurn"
	PodcastTurn    Name = "podcastTurn"
	Synthesis      Name = "synthesis"
	MindMap        Name = "mindMap"
	Insights       Name = "insights"
	SearchSelect   Name = "searchSelect"
	SearchAnswer   Name = "searchAnswer"
	AgentCreation  Name = "agentCreation"
)

// BaseTiers is the relative weight of each capability. Applying it to a
// provider keeps tier choices stable when the provider changes.
var BaseTiers = map[Name]llm.Tier{
	Chat:           llm.TierFast,
	AgentReasoning: llm.TierFast,
	Moderator:      llm.TierFast,
	Summary:        llm.TierFast,
	Title:          llm.TierLite,
	PulseReport:    llm.TierPro,
	WikiEntry:      llm.TierFast,
	DebateTurn:     llm.TierFast,
	PodcastTurn:    llm.TierFast,
	Synthesis:      llm.TierPro,
	MindMap:        llm.TierFast,
	Insights:       llm.TierLite,
	SearchSelect:   llm.TierLite,
	SearchAnswer:   llm.TierFast,
	AgentCreation:  llm.TierFast,
}

// Binding is where one capability is served.
type Binding struct {
	Provider string   `json:"provider" mapstructure:"provider"`
	Tier     llm.Tier `json:"tier" mapstructure:"tier"`
}

// Scheme maps every capability to a binding.
type Scheme map[Name]Binding

// BuildScheme applies BaseTiers to provider.
func BuildScheme(provider string) Scheme {
	s := make(Scheme, len(BaseTiers))
	for name, tier := range BaseTiers {
		s[name] = Binding{Provider: provider, Tier: tier}
	}
	return s
}

// AllLite binds every capability to provider's lite tier, for cheap test runs.
func AllLite(provider string) Scheme {
	s := make(Scheme, len(BaseTiers))
	for name := range BaseTiers {
		s[name] = Binding{Provider: provider, Tier: llm.TierLite}
	}
	return s
}

// SchemeByName resolves a scheme selector. A selector is a provider id
// ("openai"), "lite" for the all-lite scheme on defaultProvider, or
// "<provider>-lite".
func SchemeByName(selector, defaultProvider string) Scheme {
	switch {
	case selector == "":
		return BuildScheme(defaultProvider)
	case selector == "lite":
		return AllLite(defaultProvider)
	case strings.HasSuffix(selector, "-lite"):
		return AllLite(strings.TrimSuffix(selector, "-lite"))
	}
	return BuildScheme(selector)
}

// With returns a copy of s with overrides applied.
func (s Scheme) With(overrides map[Name]Binding) (Scheme, error) {
	out := make(Scheme, len(s))
	for k, v := range s {
		out[k] = v
	}
	for name, b := range overrides {
		if _, ok := BaseTiers[name]; !ok {
			return nil, fmt.Errorf("override for unknown capability %q", name)
		}
		cur := out[name]
		if b.Provider != "" {
			cur.Provider = b.Provider
		}
		if b.Tier != "" {
			if !b.Tier.Valid() {
				return nil, fmt.Errorf("override for %q: unknown tier %q", name, b.Tier)
			}
			cur.Tier = b.Tier
		}
		out[name] = cur
	}
	return out, nil
}

// Providers lists the distinct providers a scheme refers to.
func (s Scheme) Providers() []string {
	seen := make(map[string]struct{})
	for _, b := range s {
		seen[b.Provider] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
