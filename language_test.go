package sandbox

import (
	"errors"
	"sort"
	"testing"
	"time"
)

func TestResolveKnownLanguage(t *testing.T) {
	r := NewRegistry()
	lang, err := r.Resolve("python")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if lang.ID != "python" || lang.Image == "" {
		t.Fatalf("incomplete config: %+v", lang)
	}
	if !lang.NetworkDisabled || !lang.RunAsNonRoot {
		t.Fatal("built-in configs must carry the isolation posture")
	}
}

func TestResolveNormalizesIdentifier(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"Python", "PYTHON", "  python  "} {
		if _, err := r.Resolve(id); err != nil {
			t.Errorf("Resolve(%q): %v", id, err)
		}
	}
}

func TestResolveUnknownLanguage(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("cobol")
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("want ErrUnsupportedLanguage, got %v", err)
	}
}

func TestRegistryOverrides(t *testing.T) {
	custom := LanguageConfig{
		ID:             "python",
		DisplayName:    "Python (pinned)",
		Image:          "python:3.11-alpine",
		FileExtension:  ".py",
		RunCommand:     []string{"python3", "{file}"},
		DefaultTimeout: 5 * time.Second,
	}
	added := LanguageConfig{
		ID:            "lua",
		DisplayName:   "Lua",
		Image:         "lua:5.4",
		FileExtension: ".lua",
		RunCommand:    []string{"lua", "{file}"},
	}
	r := NewRegistry(custom, added)

	got, err := r.Resolve("python")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Image != "python:3.11-alpine" {
		t.Fatalf("override not applied: %s", got.Image)
	}
	if _, err := r.Resolve("lua"); err != nil {
		t.Fatalf("added language missing: %v", err)
	}
}

func TestListIsSortedAndPublic(t *testing.T) {
	list := NewRegistry().List()
	if len(list) == 0 {
		t.Fatal("empty catalog")
	}
	if !sort.SliceIsSorted(list, func(i, j int) bool { return list[i].ID < list[j].ID }) {
		t.Fatal("List must be sorted by ID")
	}
	for _, info := range list {
		if info.ID == "" || info.DisplayName == "" || info.FileExtension == "" {
			t.Fatalf("incomplete info: %+v", info)
		}
	}
}

func TestSourceName(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"python", "main.py"},
		{"go", "main.go"},
		{"java", "Main.java"},
		{"swift", "main.swift"},
		{"cpp", "main.cpp"},
	}
	r := NewRegistry()
	for _, tt := range tests {
		lang, err := r.Resolve(tt.lang)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.lang, err)
		}
		if got := lang.SourceName(); got != tt.want {
			t.Errorf("%s: SourceName = %q, want %q", tt.lang, got, tt.want)
		}
	}
}

func TestRenderArgv(t *testing.T) {
	got := renderArgv([]string{"gcc", "-O2", "-o", "main", "{file}"}, "main.c")
	want := []string{"gcc", "-O2", "-o", "main", "main.c"}
	if len(got) != len(want) {
		t.Fatalf("renderArgv = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("renderArgv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRenderArgvInsideToken(t *testing.T) {
	// The placeholder may sit inside a larger token, as in the sqlite
	// dot-command.
	got := renderArgv([]string{"sqlite3", ":memory:", ".read {file}"}, "main.sql")
	if got[2] != ".read main.sql" {
		t.Fatalf("renderArgv = %v", got)
	}
}

func TestCompiled(t *testing.T) {
	r := NewRegistry()
	compiled := map[string]bool{
		"python": false, "javascript": false, "typescript": false, "sql": false,
		"go": true, "c": true, "cpp": true, "java": true, "csharp": true,
		"rust": true, "swift": true,
	}
	for id, want := range compiled {
		lang, err := r.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", id, err)
		}
		if lang.Compiled() != want {
			t.Errorf("%s: Compiled = %v, want %v", id, lang.Compiled(), want)
		}
	}
}
