package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:          "watch",
	Short:        "Rebuild the document whenever a source changes",
	Long:         `Build the document, then keep watching its source files and rebuild on every change until interrupted.`,
	RunE:         runWatch,
	SilenceUsage: true,
}

// debounceDelay coalesces the bursts of events editors produce when
// saving a file.
const debounceDelay = 300 * time.Millisecond

func runWatch(cmd *cobra.Command, args []string) error {
	bc, err := setup(cmd, args)
	if err != nil {
		return err
	}

	// a failed build is not fatal here; the next change may fix it
	if err := bc.build(); err != nil {
		bc.logger.Error("build failed", "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()

	watched, err := addWatchDirs(watcher, bc)
	if err != nil {
		return err
	}

	rebuildReq, trigger := newDebouncer()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	bc.logger.Info("watching for changes", "source", bc.doc.Node().Sources()[0])

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// the build writes its own outputs into watched directories;
			// only changes to actual source files warrant a rebuild
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 &&
				watched[filepath.Clean(event.Name)] {
				trigger()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			bc.logger.Warn("watch error", "error", err)

		case <-rebuildReq:
			if err := bc.build(); err != nil {
				bc.logger.Error("build failed", "error", err)
			}

		case <-interrupt:
			bc.logger.Info("interrupted")
			return nil
		}
	}
}

// addWatchDirs watches the directories holding the document's leaf
// sources and returns the set of source paths to react to. Directories
// are watched rather than files so that delete-and-recreate editor saves
// keep being observed.
func addWatchDirs(watcher *fsnotify.Watcher, bc *buildContext) (map[string]bool, error) {
	dirs := make(map[string]bool)
	watched := make(map[string]bool)

	for _, src := range bc.graph.LeafSources() {
		watched[filepath.Clean(src)] = true
		dirs[filepath.Dir(src)] = true
	}

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return watched, nil
}

// newDebouncer returns a rebuild channel and a trigger function that
// fires it at most once per quiet period.
func newDebouncer() (chan struct{}, func()) {
	var mu sync.Mutex
	var timer *time.Timer
	rebuildReq := make(chan struct{}, 1)

	trigger := func() {
		mu.Lock()
		defer mu.Unlock()

		if timer != nil {
			timer.Stop()
		}

		timer = time.AfterFunc(debounceDelay, func() {
			select {
			case rebuildReq <- struct{}{}:
			default:
			}
		})
	}

	return rebuildReq, trigger
}
