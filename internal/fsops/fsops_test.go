package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/models"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestCommitPolicies(t *testing.T) {
	tests := []struct {
		name       string
		policy     models.CollisionPolicy
		existing   bool
		wantFinal  string
		wantPlaced bool
		wantTarget string
	}{
		{"absent target", models.CollisionSkip, false, "song.mp3", true, "new"},
		{"overwrite", models.CollisionOverwrite, true, "song.mp3", true, "new"},
		{"skip", models.CollisionSkip, true, "song.mp3", false, "old"},
		{"version", models.CollisionVersion, true, "song (2).mp3", true, "old"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			temp := filepath.Join(dir, ".~song.abc.tmp")
			target := filepath.Join(dir, "song.mp3")
			write(t, temp, "new")
			if tt.existing {
				write(t, target, "old")
			}

			c := NewCommitter(zerolog.Nop())
			final, placed, err := c.Commit(temp, target, tt.policy)
			if err != nil {
				t.Fatalf("Commit: %v", err)
			}
			if final != filepath.Join(dir, tt.wantFinal) || placed != tt.wantPlaced {
				t.Fatalf("Commit = %q, %v", final, placed)
			}
			if got := read(t, target); got != tt.wantTarget {
				t.Errorf("target holds %q, want %q", got, tt.wantTarget)
			}
			if placed {
				if _, err := os.Stat(temp); !os.IsNotExist(err) {
					t.Errorf("temp still present after commit")
				}
				if got := read(t, final); got != "new" {
					t.Errorf("final holds %q", got)
				}
			}
		})
	}
}

func TestCommitVersionMonotonic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.mp3")
	write(t, target, "v1")

	c := NewCommitter(zerolog.Nop())
	for i := 2; i <= 4; i++ {
		temp := filepath.Join(dir, fmt.Sprintf(".~a.%d.tmp", i))
		write(t, temp, fmt.Sprintf("v%d", i))
		final, _, err := c.Commit(temp, target, models.CollisionVersion)
		if err != nil {
			t.Fatal(err)
		}
		if want := filepath.Join(dir, fmt.Sprintf("a (%d).mp3", i)); final != want {
			t.Fatalf("final = %q, want %q", final, want)
		}
	}
	if read(t, target) != "v1" || read(t, filepath.Join(dir, "a (2).mp3")) != "v2" {
		t.Error("earlier files overwritten")
	}
}

func TestCommitConcurrentVersionsDistinct(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "shared.mp3")
	c := NewCommitter(zerolog.Nop())

	const n = 8
	finals := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		temp := filepath.Join(dir, fmt.Sprintf(".~shared.%d.tmp", i))
		write(t, temp, "x")
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			final, _, err := c.Commit(temp, target, models.CollisionVersion)
			if err != nil {
				t.Error(err)
			}
			finals[i] = final
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, f := range finals {
		if seen[f] {
			t.Fatalf("two commits landed on %q", f)
		}
		seen[f] = true
	}
}

func TestVersionedName(t *testing.T) {
	if got := VersionedName("/m/x.y.mp3", 3); got != "/m/x.y (3).mp3" {
		t.Errorf("VersionedName = %q", got)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "manifest.json")
	if err := WriteFileAtomic(path, []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := read(t, path); got != "two" {
		t.Errorf("content = %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %d entries", len(entries))
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mp3")
	dst := filepath.Join(dir, "b.tmp")
	write(t, src, "ID3 payload")
	write(t, dst, "longer previous content")

	if err := CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}
	if got := read(t, dst); got != "ID3 payload" {
		t.Errorf("copy = %q", got)
	}
}

func TestDeleteSource(t *testing.T) {
	r := NewRemover(zerolog.Nop())

	t.Run("permanent", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "a.flac")
		write(t, src, "x")
		deleted, err := r.DeleteSource(src, filepath.Join(dir, "a.mp3"), models.DeletePermanent)
		if err != nil || !deleted {
			t.Fatalf("DeleteSource = %v, %v", deleted, err)
		}
		if _, err := os.Stat(src); !os.IsNotExist(err) {
			t.Error("source still present")
		}
	})

	t.Run("missing counts as deleted", func(t *testing.T) {
		dir := t.TempDir()
		deleted, err := r.DeleteSource(filepath.Join(dir, "gone.flac"), filepath.Join(dir, "gone.mp3"), models.DeletePermanent)
		if err != nil || !deleted {
			t.Fatalf("DeleteSource = %v, %v", deleted, err)
		}
	})

	t.Run("same file kept", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "a.mp3")
		write(t, src, "x")
		link := filepath.Join(dir, "link.mp3")
		if err := os.Symlink(src, link); err != nil {
			t.Skip("symlinks unsupported")
		}
		deleted, err := r.DeleteSource(link, src, models.DeletePermanent)
		if err != nil || deleted {
			t.Fatalf("DeleteSource = %v, %v", deleted, err)
		}
		if _, err := os.Stat(src); err != nil {
			t.Error("committed file removed")
		}
	})

	t.Run("trash failure reported", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "a.flac")
		write(t, src, "x")
		failing := &Remover{logger: zerolog.Nop(), trash: func(string) error { return fmt.Errorf("trash unavailable") }}
		deleted, err := failing.DeleteSource(src, filepath.Join(dir, "a.mp3"), models.DeleteTrash)
		if err == nil || deleted {
			t.Fatalf("DeleteSource = %v, %v", deleted, err)
		}
	})
}
