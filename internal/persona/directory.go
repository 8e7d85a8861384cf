package persona

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Directory is a read-only set of agents addressable by id or name.
type Directory struct {
	agents []Agent
	byID   map[string]int
	byName map[string]int // lower-cased name
}

// NewDirectory indexes agents. Later agents with a duplicate name are dropped.
func NewDirectory(agents ...Agent) *Directory {
	d := &Directory{
		byID:   make(map[string]int),
		byName: make(map[string]int),
	}
	for _, a := range agents {
		key := strings.ToLower(a.Name)
		if _, dup := d.byName[key]; dup {
			slog.Warn("duplicate agent name, keeping first", "name", a.Name, "id", a.ID)
			continue
		}
		d.byID[a.ID] = len(d.agents)
		d.byName[key] = len(d.agents)
		d.agents = append(d.agents, a)
	}
	return d
}

// All returns every agent in insertion order.
func (d *Directory) All() []Agent {
	out := make([]Agent, len(d.agents))
	copy(out, d.agents)
	return out
}

// ByID returns the agent with id.
func (d *Directory) ByID(id string) (Agent, bool) {
	i, ok := d.byID[id]
	if !ok {
		return Agent{}, false
	}
	return d.agents[i], true
}

// ByName returns the agent whose name matches case-insensitively.
func (d *Directory) ByName(name string) (Agent, bool) {
	i, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Agent{}, false
	}
	return d.agents[i], true
}

// Resolve maps ids or names to agents. References to agents that no longer
// exist are skipped and returned in missing.
func (d *Directory) Resolve(refs []string) (found []Agent, missing []string) {
	for _, ref := range refs {
		if a, ok := d.ByID(ref); ok {
			found = append(found, a)
			continue
		}
		if a, ok := d.ByName(ref); ok {
			found = append(found, a)
			continue
		}
		missing = append(missing, ref)
	}
	if len(missing) > 0 {
		slog.Warn("skipping references to unknown agents", "refs", missing)
	}
	return found, missing
}

var mentionRe = regexp.MustCompile(`@([\p{L}\p{N}_-]+)`)

// ResolveMentions returns the names of participants @-mentioned in text.
// Full names match first (so "@Podcast Host" works); remaining single-word
// mentions are fuzzy-matched against participant names.
func ResolveMentions(text string, participants []Agent) []string {
	if !strings.Contains(text, "@") || len(participants) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	names := make([]string, len(participants))
	for i, a := range participants {
		names[i] = a.Name
	}

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	// Longest names first so "@Podcast Host" is not claimed by "@Podcast".
	byLen := append([]string(nil), names...)
	sort.Slice(byLen, func(i, j int) bool { return len(byLen[i]) > len(byLen[j]) })
	consumed := lower
	for _, n := range byLen {
		tag := "@" + strings.ToLower(n)
		if strings.Contains(consumed, tag) {
			add(n)
			consumed = strings.ReplaceAll(consumed, tag, " ")
		}
	}

	for _, m := range mentionRe.FindAllStringSubmatch(consumed, -1) {
		matches := fuzzy.Find(m[1], names)
		if len(matches) == 0 {
			continue
		}
		add(names[matches[0].Index])
	}
	return out
}
