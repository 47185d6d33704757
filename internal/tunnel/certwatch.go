package tunnel

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// watchCertFiles logs a warning whenever one of the CA/cert/key files
// backing an already-running node changes on disk. Rotating TLS material
// only takes effect on the next supervisor restart (spec.md §4.8's fixed
// TLS config is built once per node attempt), so this exists purely to
// tell the operator a restart is due -- it never triggers one itself.
func watchCertFiles(ctx context.Context, logger Logger, paths ...string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WLogf("cert watch disabled: %v", err)
		return
	}

	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			logger.WLogf("cert watch: cannot watch %s: %v", p, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
					logger.WLogf("cert material changed on disk: %s (restart to pick up)", ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WLogf("cert watch error: %v", err)
			}
		}
	}()
}
