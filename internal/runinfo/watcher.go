package runinfo

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/bmindur/d3df-digitizer-soft/internal/logging"
)

// Watcher reports run info files as the acquisition program creates them
// under the data output directory. New run subdirectories are picked up
// and watched as they appear.
type Watcher struct {
	fs    *fsnotify.Watcher
	paths chan string

	closeOnce sync.Once
	done      chan struct{}
}

// Watch starts watching dir and its future run subdirectories.
func Watch(dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		fs:    fw,
		paths: make(chan string, 16),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Paths yields discovered run info file paths. The channel closes when
// the watcher is closed or fails.
func (w *Watcher) Paths() <-chan string { return w.paths }

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fs.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.paths)
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Acquisition("runinfo watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	name := filepath.Base(ev.Name)
	if strings.HasSuffix(name, infoSuffix) {
		select {
		case w.paths <- ev.Name:
		default:
			// Drop rather than block the event loop.
		}
		return
	}
	if ev.Has(fsnotify.Create) {
		// A new run directory; watch it so the info file inside is seen.
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.fs.Add(ev.Name); err != nil {
				logging.Acquisition("runinfo watcher: add %s: %v", ev.Name, err)
			}
		}
	}
}
