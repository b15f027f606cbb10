// Package collector walks a directory tree to produce the ordered list of
// filesystem inputs C8 treats as one planned entry per file when the
// modify orchestrator (C9) expands a directory root from Context.Inputs
// (spec §4.8 step 1 "Describe input", spec §5's "directories before their
// children when expanded by the caller").
package collector

import (
	"os"
	"path/filepath"
	"time"
)

// FileInfo describes one file discovered under a directory root.
// Symlinks are reported rather than followed, so the writer can decide,
// per entry, whether to store the link itself or read through to its
// target (spec §4.8 step 1, Context.SymlinkAsLink).
type FileInfo struct {
	Path       string
	Name       string
	Size       int64
	ModTime    time.Time
	Mode       os.FileMode
	IsSymlink  bool
	LinkTarget string
}

// Options configures which discovered files Collect drops before they
// ever reach the input planner.
type Options struct {
	// SkipNames are base filenames excluded from the walk. planInputs
	// uses this to keep the archive's own output path and its atomic-
	// replace temp sibling (spec §4.9, §6 "<base>.tmp") out of its own
	// input set when an archive is built from a directory that happens
	// to contain it.
	SkipNames []string
}

// Collector walks directory trees under one shared skip configuration.
type Collector struct {
	skip map[string]bool
}

// New returns a Collector configured with opts.
func New(opts Options) *Collector {
	c := &Collector{skip: make(map[string]bool, len(opts.SkipNames))}
	for _, name := range opts.SkipNames {
		c.skip[name] = true
	}
	return c
}

// Collect walks root and returns every file (and symlink) beneath it,
// skipping directory entries themselves and anything named in Options.
// A symlink to a directory is reported as a file, not followed, since
// filepath.Walk already declines to descend into it.
func (c *Collector) Collect(root string) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if c.skip[info.Name()] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		fi := FileInfo{Path: path, Name: info.Name(), Size: info.Size(), ModTime: info.ModTime(), Mode: info.Mode()}
		if info.Mode()&os.ModeSymlink != 0 {
			target, lerr := os.Readlink(path)
			if lerr != nil {
				return lerr
			}
			fi.IsSymlink = true
			fi.LinkTarget = target
		}
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
