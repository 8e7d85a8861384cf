package persona

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultsValid(t *testing.T) {
	ids := make(map[string]bool)
	for _, a := range Defaults() {
		if err := a.Validate(); err != nil {
			t.Errorf("%s: %v", a.Name, err)
		}
		if ids[a.ID] {
			t.Errorf("duplicate id %s", a.ID)
		}
		ids[a.ID] = true
		if a.IsCustom {
			t.Errorf("%s should not be custom", a.Name)
		}
	}
}

func TestFromToolArgs(t *testing.T) {
	a, err := FromToolArgs(map[string]any{
		"name":              " Economist ",
		"description":       "Thinks in incentives",
		"systemInstruction": "You are an economist.",
	})
	if err != nil {
		t.Fatalf("FromToolArgs: %v", err)
	}
	if a.Name != "Economist" || !a.IsCustom || a.ID == "" {
		t.Errorf("agent = %+v", a)
	}
	if a.Icon == "" || a.Color == "" {
		t.Errorf("defaults not applied: %+v", a)
	}

	_, err = FromToolArgs(map[string]any{"name": "Moderator", "systemInstruction": "x"})
	if !errors.Is(err, ErrInvalidAgent) {
		t.Errorf("reserved name err = %v", err)
	}
	_, err = FromToolArgs(map[string]any{"name": "NoInstructions"})
	if !errors.Is(err, ErrInvalidAgent) {
		t.Errorf("missing instruction err = %v", err)
	}
}

func TestDirectoryResolveSkipsDangling(t *testing.T) {
	d := NewDirectory(Defaults()...)
	found, missing := d.Resolve([]string{PragmatistID, "visionary", "deleted-agent-id"})
	if len(found) != 2 || found[0].Name != "Pragmatist" || found[1].Name != "Visionary" {
		t.Errorf("found = %+v", found)
	}
	if !reflect.DeepEqual(missing, []string{"deleted-agent-id"}) {
		t.Errorf("missing = %v", missing)
	}
}

func TestDirectoryDropsDuplicateNames(t *testing.T) {
	dup := Defaults()[0]
	dup.ID = "other"
	d := NewDirectory(append(Defaults(), dup)...)
	if len(d.All()) != len(Defaults()) {
		t.Errorf("All = %d agents", len(d.All()))
	}
	if _, ok := d.ByID("other"); ok {
		t.Error("duplicate should have been dropped")
	}
}

func TestResolveMentions(t *testing.T) {
	podcast := Agent{ID: "p", Name: "Podcast Host", SystemInstruction: "x"}
	participants := append(Defaults(), podcast)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "none", text: "what do you all think?", want: nil},
		{name: "exact", text: "@Skeptic is this right?", want: []string{"Skeptic"}},
		{name: "case insensitive", text: "hey @visionary", want: []string{"Visionary"}},
		{name: "fuzzy", text: "@prag thoughts?", want: []string{"Pragmatist"}},
		{name: "multi word", text: "@Podcast Host take it away", want: []string{"Podcast Host"}},
		{name: "several deduped", text: "@Scribe and @Researcher, also @scribe", want: []string{"Researcher", "Scribe"}},
		{name: "unknown", text: "@zzzq hello", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveMentions(tt.text, participants)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveMentions(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("economist.yaml", `
name: Economist
description: Thinks in incentives
icon: "💹"
color: "#10B981"
system_instruction: |
  You are an economist. Explain incentives.
`)
	write("notes.txt", "ignored")

	agents, err := LoadProfiles(dir)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(agents))
	}
	a := agents[0]
	if a.ID != "profile-economist" || a.Name != "Economist" || a.SystemInstruction != "You are an economist. Explain incentives." {
		t.Errorf("agent = %+v", a)
	}

	write("broken.yaml", "name: [unterminated")
	if _, err := LoadProfiles(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadProfilesMissingDir(t *testing.T) {
	agents, err := LoadProfiles(filepath.Join(t.TempDir(), "nope"))
	if err != nil || agents != nil {
		t.Errorf("LoadProfiles = %v, %v", agents, err)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Economist":        "economist",
		"  Podcast Host! ": "podcast-host",
		"R2-D2":            "r2-d2",
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
