package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, root, dir, md string) {
	t.Helper()
	p := filepath.Join(root, ".claude", "skills", dir)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, "SKILL.md"), []byte(md), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListParsesFrontmatter(t *testing.T) {
	cwd := t.TempDir()
	writeSkill(t, cwd, "deploy", "---\nname: deploy-service\ndescription: Ship to prod\n---\nbody\n")

	got := List(cwd, t.TempDir())
	if len(got) != 1 {
		t.Fatalf("got %d skills", len(got))
	}
	if got[0].Name != "deploy-service" || got[0].Description != "Ship to prod" || got[0].Source != "project" {
		t.Errorf("skill = %+v", got[0])
	}
}

func TestProjectShadowsUser(t *testing.T) {
	cwd, home := t.TempDir(), t.TempDir()
	writeSkill(t, cwd, "review", "---\nname: review\n---\n")
	writeSkill(t, home, "review", "---\nname: review\n---\n")
	writeSkill(t, home, "extra", "no frontmatter here\n")

	got := List(cwd, home)
	if len(got) != 2 {
		t.Fatalf("got %d skills: %+v", len(got), got)
	}
	if got[0].Source != "project" {
		t.Errorf("project skill should win: %+v", got[0])
	}
	// the frontmatter-less skill keeps its directory name
	if got[1].Name != "extra" || got[1].Source != "user" {
		t.Errorf("user skill = %+v", got[1])
	}
}

func TestSoulRoundTrip(t *testing.T) {
	cwd := t.TempDir()
	if _, ok := ReadSoul(cwd); ok {
		t.Fatal("soul reported present in empty dir")
	}
	if err := WriteSoul(cwd, "# Soul\nbe kind\n"); err != nil {
		t.Fatal(err)
	}
	content, ok := ReadSoul(cwd)
	if !ok || content != "# Soul\nbe kind\n" {
		t.Errorf("soul = %q ok=%v", content, ok)
	}
}
