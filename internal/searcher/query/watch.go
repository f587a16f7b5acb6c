package query

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// WatchSynonyms reloads the synonym table whenever the file at path changes,
// until ctx is cancelled. The parent directory is watched so that editors
// that replace the file by rename are picked up. A file that fails to parse
// leaves the current table in place. m may be nil.
func (p *Processor) WatchSynonyms(ctx context.Context, path string, m *metrics.Metrics) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating synonyms watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	reload := func() {
		syn, err := LoadSynonyms(path)
		if err != nil {
			p.logger.Error("synonym reload failed, keeping previous table", "path", path, "error", err)
			if m != nil {
				m.SynonymReloadsTotal.WithLabelValues("error").Inc()
			}
			return
		}
		p.SetSynonyms(syn)
		if m != nil {
			m.SynonymReloadsTotal.WithLabelValues("ok").Inc()
		}
		p.logger.Info("synonyms reloaded", "path", path, "groups", syn.Len())
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("synonyms watcher error", "error", err)
			}
		}
	}()
	return nil
}
