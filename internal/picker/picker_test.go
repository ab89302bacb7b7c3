package picker

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRankFuzzy(t *testing.T) {
	files := []string{
		"src/deep/path/auth-provider.ts",
		"auth.ts",
		"src/auth/index.ts",
		"README.md",
	}
	got := Rank(files, "auth")
	if len(got) == 0 || got[0] != "auth.ts" {
		t.Errorf("first = %v", got)
	}
	found := false
	for _, f := range got {
		if f == "src/auth/index.ts" {
			found = true
		}
	}
	if !found {
		t.Errorf("src/auth/index.ts missing from %v", got)
	}
	for _, f := range got {
		if f == "README.md" {
			t.Errorf("non-match included: %v", got)
		}
	}
}

func TestRankEmptyQueryDeterministic(t *testing.T) {
	files := []string{
		"src/b/deep.go",
		"zz.go",
		"a.go",
		"src/aa.go",
		"src/ab.go",
	}
	want := []string{"a.go", "zz.go", "src/aa.go", "src/ab.go", "src/b/deep.go"}
	got := Rank(files, "")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	// input slice untouched
	if files[0] != "src/b/deep.go" {
		t.Error("Rank mutated its input")
	}
}

func TestListFilesSkipsNoise(t *testing.T) {
	dir := t.TempDir()
	mk := func(rel string) {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mk("main.go")
	mk("src/app.go")
	mk(".git/config")
	mk("node_modules/pkg/index.js")
	mk(".hidden/secret.txt")

	got, err := ListFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"main.go": true, filepath.Join("src", "app.go"): true}
	if len(got) != len(want) {
		t.Fatalf("files = %v", got)
	}
	for _, f := range got {
		if !want[f] {
			t.Errorf("unexpected file %q", f)
		}
	}
}
