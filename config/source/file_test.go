package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFile_Name(t *testing.T) {
	source := &File{}
	if got := source.Name(); got != "file" {
		t.Errorf("Name() = %v, want file", got)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFile_Load_Base(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yaml", `
app:
  name: modulith
server:
  addr: ":8080"
`)

	source := &File{Dir: dir}
	result, err := source.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := lookupPath(t, result, []string{"app", "name"}); got != "modulith" {
		t.Errorf("app.name = %v, want modulith", got)
	}
	if got := lookupPath(t, result, []string{"server", "addr"}); got != ":8080" {
		t.Errorf("server.addr = %v, want :8080", got)
	}
}

func TestFile_Load_YmlFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", "app:\n  name: modulith\n")

	source := &File{Dir: dir}
	result, err := source.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := lookupPath(t, result, []string{"app", "name"}); got != "modulith" {
		t.Errorf("app.name = %v, want modulith", got)
	}
}

func TestFile_Load_ProfileOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yaml", `
app:
  name: modulith
server:
  addr: ":8080"
`)
	writeFile(t, dir, "application.prod.yaml", `
server:
  addr: ":80"
`)

	source := &File{Dir: dir, Profile: "prod"}
	result, err := source.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// The overlay's top-level keys win; untouched keys survive.
	if got := lookupPath(t, result, []string{"server", "addr"}); got != ":80" {
		t.Errorf("server.addr = %v, want profile override :80", got)
	}
	if got := lookupPath(t, result, []string{"app", "name"}); got != "modulith" {
		t.Errorf("app.name = %v, want modulith", got)
	}
}

func TestFile_Load_MissingProfileIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yaml", "app:\n  name: modulith\n")

	source := &File{Dir: dir, Profile: "staging"}
	if _, err := source.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v, want nil for missing profile", err)
	}
}

func TestFile_Load_MissingBase(t *testing.T) {
	source := &File{Dir: t.TempDir()}
	_, err := source.Load(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load() error = %v, want os.ErrNotExist", err)
	}
}
