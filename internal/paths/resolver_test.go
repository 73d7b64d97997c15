package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCanonicalize_Default(t *testing.T) {
	got, err := Canonicalize("")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir: %v", err)
	}
	want := filepath.Join(home, DefaultDirName, DefaultAgentName)
	if got != want {
		t.Errorf("default dir = %q, want %q", got, want)
	}
}

func TestCanonicalize_HomeExpansion(t *testing.T) {
	got, err := Canonicalize("~/agents/alpha")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	home, _ := os.UserHomeDir()
	want := filepath.Join(home, "agents", "alpha")
	if got != want {
		t.Errorf("expanded dir = %q, want %q", got, want)
	}
	if strings.Contains(got, "~") {
		t.Errorf("tilde should be expanded, got %q", got)
	}
}

func TestCanonicalize_RelativePath(t *testing.T) {
	got, err := Canonicalize("some/agent")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	if !filepath.IsAbs(got) {
		t.Errorf("relative path should become absolute, got %q", got)
	}

	cwd, _ := os.Getwd()
	if want := filepath.Join(cwd, "some", "agent"); got != want {
		t.Errorf("resolved = %q, want %q", got, want)
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	// Two spellings of the same directory must yield the same key.
	a, err := Canonicalize("/data/agents/x")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Canonicalize("/data/agents/./x/")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("canonical keys differ: %q vs %q", a, b)
	}
}

func TestNewResolver_CreatesLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "agent-a")

	r, err := NewResolver(dir)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	if r.DataDir() != dir {
		t.Errorf("DataDir = %q, want %q", r.DataDir(), dir)
	}

	keysDir := filepath.Dir(r.KeypairFile())
	info, err := os.Stat(keysDir)
	if err != nil {
		t.Fatalf("keys dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("keys path should be a directory")
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("keys dir perms = %v, want 0700", info.Mode().Perm())
	}

	if got := filepath.Dir(r.ConfigFile()); got != dir {
		t.Errorf("config file should live in the data dir, got %q", got)
	}
	if r.KeypairFile() == r.AuthFile() {
		t.Error("keypair and auth files must be distinct")
	}
}
