package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jopamo/zu/internal/zipfmt"
)

// exitCodeFor maps an engine error kind onto the process exit code the
// spec's taxonomy prescribes (spec §6); USAGE and NO_FILES differ between
// the write side (archive) and the read side (extract).
func exitCodeFor(kind zipfmt.ErrorKind, isWrite bool) int {
	switch kind {
	case zipfmt.KindOK:
		return 0
	case zipfmt.KindIO:
		return 2
	case zipfmt.KindUsage:
		if isWrite {
			return 16
		}
		return 10
	case zipfmt.KindOOM:
		return 5
	case zipfmt.KindNotImplemented:
		return 3
	case zipfmt.KindNoFiles:
		if isWrite {
			return 12
		}
		return 11
	case zipfmt.KindPasswordRequired, zipfmt.KindBadPassword:
		return 2
	default:
		return 1
	}
}

// reportErr prints err to stderr (prefixed with the tool name, per spec
// §7 "the CLI is responsible for prefixing the tool name and routing to
// stderr") and returns the exit code it maps to.
func reportErr(err error, isWrite bool) int {
	fmt.Fprintf(os.Stderr, "zu: %v\n", err)
	if _, ok := err.(*zipfmt.Error); ok {
		return exitCodeFor(zipfmt.KindOf(err), isWrite)
	}
	// A foreign error reaching here is a cobra argument/flag failure, not an
	// engine failure; the taxonomy's USAGE code fits (spec §7).
	return exitCodeFor(zipfmt.KindUsage, isWrite)
}

// parseTimeFilter parses a time-window flag value (--after/--before) in
// either RFC3339 or a bare YYYY-MM-DD form; an empty string means "no
// bound" (spec §6, P8).
func parseTimeFilter(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(time.RFC3339, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time filter %q: want RFC3339 or YYYY-MM-DD", s)
}

func printDryRunBanner(dryRun bool) {
	if !dryRun {
		return
	}
	fmt.Println("=== DRY RUN - no changes will be made ===")
}

func printDryRunHint(dryRun bool) {
	if !dryRun {
		return
	}
	fmt.Println()
	fmt.Println("Run without --dry-run to apply changes.")
}

func printSummary(lines ...string) {
	fmt.Println("=== Summary ===")
	for _, line := range lines {
		fmt.Println(line)
	}
}

func formatBytes(n uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.2f GB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/KB)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// progressReporter prints a periodic "still working" line to stderr for
// long-running runs, mirroring the teacher's ticker-based progress idiom
// (see DESIGN.md) adapted to report archive entries instead of files.
type progressReporter struct {
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func startProgress(label string, quiet int) *progressReporter {
	p := &progressReporter{stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	if quiet > 0 {
		close(p.doneCh)
		return p
	}

	startTime := time.Now()
	ticker := time.NewTicker(5 * time.Second)

	go func() {
		defer close(p.doneCh)
		for {
			select {
			case <-ticker.C:
				elapsed := time.Since(startTime).Round(time.Second)
				fmt.Fprintf(os.Stderr, "%s... %s elapsed\n", label, elapsed)
			case <-p.stopCh:
				ticker.Stop()
				return
			}
		}
	}()

	return p
}

func (p *progressReporter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.doneCh
	})
}

// onProgress adapts verbose/quiet CLI flags into a zipfmt.Context.OnProgress
// callback: verbose prints one line per entry, otherwise progress is only
// reported via the ticker started by startProgress.
func onProgress(verbose bool) func(stage string, processed, total int) {
	if !verbose {
		return nil
	}
	return func(stage string, processed, total int) {
		fmt.Fprintf(os.Stderr, "%s: %d/%d\n", stage, processed, total)
	}
}
