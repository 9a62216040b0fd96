package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadFileScoped_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	b, err := ReadFileScoped(p)
	if err != nil {
		t.Fatalf("ReadFileScoped error: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func TestReadFileScoped_RejectsInvalidPath(t *testing.T) {
	for _, p := range []string{"", ".", string(filepath.Separator)} {
		if _, err := ReadFileScoped(p); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.csv")
	if err := os.WriteFile(p, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := HashFile(p)
	if err != nil {
		t.Fatalf("HashFile error: %v", err)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Fatalf("HashFile = %s, want %s", got, want)
	}

	if _, err := HashFile(filepath.Join(dir, "missing.csv")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestListFiles_OrderAndFilter(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	files := []struct {
		name string
		age  time.Duration
	}{
		{"newest.csv", 30 * time.Minute},
		{"oldest.TSV", 0},
		{"middle.csv.gz", 10 * time.Minute},
		{"groups.csv", 5 * time.Minute},
		{"notes.md", 1 * time.Minute},
		{".hidden.csv", 2 * time.Minute},
	}
	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if err := os.WriteFile(p, []byte("id\n1\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(f.age)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.csv"), 0o750); err != nil {
		t.Fatal(err)
	}

	got, err := ListFiles(dir, []string{".csv", ".tsv"}, []string{".gz"}, "groups.csv")
	if err != nil {
		t.Fatalf("ListFiles error: %v", err)
	}

	want := []string{"oldest.TSV", "middle.csv.gz", "newest.csv"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i, name := range want {
		if filepath.Base(got[i].Path) != name {
			t.Errorf("entry %d = %s, want %s", i, filepath.Base(got[i].Path), name)
		}
	}
}
