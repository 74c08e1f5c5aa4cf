package devwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReportsIncludedWrites(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, `index.html`)
	writeFile(t, page, `one`)
	writeFile(t, filepath.Join(dir, `.hidden`), `ignored`)
	writeFile(t, filepath.Join(dir, `notes.txt`), `ignored`)

	got := make(chan string, 8)
	stop, err := Watch(dir, func(path string) { got <- path }, Include(`*.html`))
	if err != nil {
		t.Fatalf(`could not watch %q: %v`, dir, err)
	}
	defer stop()

	writeFile(t, filepath.Join(dir, `notes.txt`), `still ignored`)
	writeFile(t, filepath.Join(dir, `.hidden`), `still ignored`)
	writeFile(t, page, `two`)

	select {
	case path := <-got:
		if filepath.Base(path) != `index.html` {
			t.Fatalf(`reported %q instead of the included page`, path)
		}
	case <-time.After(time.Second * 5):
		t.Fatalf(`the change was never reported`)
	}
}

func TestWatchIgnoresDotFilesByDefault(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, `.env`)
	page := filepath.Join(dir, `index.html`)
	writeFile(t, hidden, `one`)
	writeFile(t, page, `one`)

	got := make(chan string, 8)
	stop, err := Watch(dir, func(path string) { got <- path })
	if err != nil {
		t.Fatalf(`could not watch %q: %v`, dir, err)
	}
	defer stop()

	writeFile(t, hidden, `two`)
	writeFile(t, page, `two`)

	select {
	case path := <-got:
		if filepath.Base(path) != `index.html` {
			t.Fatalf(`reported the excluded file %q`, path)
		}
	case <-time.After(time.Second * 5):
		t.Fatalf(`the change was never reported`)
	}
}

func TestWatchRejectsBadPatterns(t *testing.T) {
	_, err := Watch(t.TempDir(), func(string) {}, Include(`[`))
	if err == nil {
		t.Fatalf(`expected a pattern error`)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf(`could not write %q: %v`, path, err)
	}
}
