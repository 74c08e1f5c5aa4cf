// Package devwatch watches a document root and reports changed files so the
// demo host can tell connected pages to reload.
package devwatch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// Watch recursively watches dir and calls notify with the path of each
// changed file that passes the include/exclude patterns.  The returned stop
// function shuts the watcher down.
func Watch(dir string, notify func(path string), options ...Option) (stop func(), err error) {
	wr := &watcher{notify: notify}
	for _, option := range options {
		err = option(wr)
		if err != nil {
			return nil, err
		}
	}
	if len(wr.excludes) == 0 {
		wr.excludes = []glob.Glob{glob.MustCompile(`.*`, filepath.Separator)}
	}
	wr.fsnotify, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = filepath.WalkDir(dir, func(path string, info fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return wr.fsnotify.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = wr.fsnotify.Close()
		return nil, err
	}
	go wr.process()
	return func() { _ = wr.fsnotify.Close() }, nil
}

// An Option adjusts a watcher during construction.
type Option func(*watcher) error

// Include specifies file patterns to report.  Without includes, every file
// that is not excluded is reported.
func Include(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.includes, err = appendPatterns(wr.includes, patterns...)
		return
	}
}

// Exclude specifies file patterns to ignore.  Without excludes, dot files are
// ignored.  A file matching both an include and an exclude is ignored.
func Exclude(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.excludes, err = appendPatterns(wr.excludes, patterns...)
		return
	}
}

func appendPatterns(seq []glob.Glob, patterns ...string) ([]glob.Glob, error) {
	for _, pattern := range patterns {
		rx, err := glob.Compile(pattern, filepath.Separator)
		if err != nil {
			return nil, fmt.Errorf(`%w in %q`, err, pattern)
		}
		seq = append(seq, rx)
	}
	return seq, nil
}

type watcher struct {
	includes []glob.Glob
	excludes []glob.Glob
	notify   func(path string)
	fsnotify *fsnotify.Watcher
}

func (wr *watcher) process() {
	for event := range wr.fsnotify.Events {
		if event.Has(fsnotify.Create) {
			info, err := os.Stat(event.Name)
			if err == nil && info.IsDir() {
				// watch new directories, but a new directory is not a change
				_ = wr.fsnotify.Add(event.Name)
				continue
			}
		}
		if event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			if event.Has(fsnotify.Remove) {
				_ = wr.fsnotify.Remove(event.Name)
			}
			if wr.shouldReport(event.Name) {
				wr.notify(event.Name)
			}
		}
	}
}

func (wr *watcher) shouldReport(name string) bool {
	base := filepath.Base(name) // patterns describe files, not paths
	included := len(wr.includes) == 0
	for _, rx := range wr.includes {
		if rx.Match(base) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, rx := range wr.excludes {
		if rx.Match(base) {
			return false
		}
	}
	return true
}
