package proxyconf

import (
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDriftDebounce = 500 * time.Millisecond

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// WatchDrift watches the proxy configuration file and, once changes settle
// for debounce, checks whether it still matches the last committed content.
// onDrift (may be nil) runs after a drift has been logged. The directory is
// watched rather than the file, since atomic writes replace the inode.
func (m *Manager) WatchDrift(debounce time.Duration, onDrift func()) (io.Closer, error) {
	if debounce <= 0 {
		debounce = DefaultDriftDebounce
	}
	target := filepath.Clean(m.opts.Path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		resetTimer := func() {
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			timerC = timer.C
		}
		check := func() {
			drifted, err := m.CheckDrift()
			if err != nil {
				m.log.Warn("drift check failed", zap.String("path", target), zap.Error(err))
				return
			}
			if !drifted {
				return
			}
			m.log.Warn("proxy config changed outside the provisioner", zap.String("path", target))
			if onDrift != nil {
				onDrift()
			}
		}

		for {
			select {
			case <-stopCh:
				if timer != nil {
					timer.Stop()
				}
				return
			case <-timerC:
				timerC = nil
				check()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Warn("proxy config watcher error", zap.Error(err))
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if isTargetEvent(evt, target) {
					resetTimer()
				}
			}
		}
	}()

	m.log.Info("proxy config drift watch enabled", zap.String("path", target), zap.Duration("debounce", debounce))
	return closerFunc(func() error {
		close(stopCh)
		err := watcher.Close()
		<-doneCh
		return err
	}), nil
}

func isTargetEvent(evt fsnotify.Event, target string) bool {
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
		return false
	}
	return filepath.Clean(evt.Name) == target
}
