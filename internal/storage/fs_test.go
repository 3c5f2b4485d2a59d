package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	f, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return f
}

func TestCreateAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("---\nid: solutions-bug_fixes-001\n---\n")
	if err := s.Create("SOLUTIONS/bug_fixes/solutions-bug_fixes-001.md", content); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Read("SOLUTIONS/bug_fixes/solutions-bug_fixes-001.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestCreate_NeverReplaces(t *testing.T) {
	s := tempRoot(t)
	if err := s.Create("a.md", []byte("original")); err != nil {
		t.Fatal(err)
	}
	err := s.Create("a.md", []byte("second"))
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("err = %v, want fs.ErrExist", err)
	}
	got, _ := s.Read("a.md")
	if string(got) != "original" {
		t.Errorf("content = %q, want original", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), TempPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)
	for _, p := range []string{"", "../../etc/passwd", "../outside.md", "/etc/shadow", "a/../../b.md"} {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected read error for %q", p)
		}
		if err := s.Create(p, []byte("x")); err == nil {
			t.Errorf("expected create error for %q", p)
		}
	}
}

func TestNewFS_Errors(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}
	p := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(p, []byte("x"), 0o644)
	if _, err := NewFS(p); err == nil {
		t.Error("expected error when root is a file")
	}
}
