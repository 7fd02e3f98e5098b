package tds

import (
	"crypto/tls"
	"crypto/x509"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// certWatcher watches a CA bundle file for changes and atomically swaps the
// pool future connections verify against. Connections already established
// keep whatever RootCAs their tls.Config captured at dial time; only
// Connect calls made after a reload see the new bundle.
type certWatcher struct {
	mu   sync.Mutex
	pool atomic.Pointer[x509.CertPool]

	path   string
	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}

	debounceDelay time.Duration
	timer         *time.Timer

	onReload func(err error)
}

// newCertWatcher loads path once, then starts watching it for writes so a
// rotated CA bundle is picked up without restarting the process.
func newCertWatcher(path string, onReload func(err error)) (*certWatcher, error) {
	pool, err := loadCABundle(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, wrapTransportError(err, "creating CA bundle watcher")
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, wrapTransportError(err, "watching CA bundle directory %s", dir)
	}

	w := &certWatcher{
		path:          path,
		fsw:           fsw,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		debounceDelay: 250 * time.Millisecond,
		onReload:      onReload,
	}
	w.pool.Store(pool)

	go w.run()
	return w, nil
}

// Pool returns the most recently loaded CA pool.
func (w *certWatcher) Pool() *x509.CertPool {
	return w.pool.Load()
}

// Close stops the background watch goroutine.
func (w *certWatcher) Close() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *certWatcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.debounceReload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onReload != nil {
				w.onReload(wrapTransportError(err, "watching CA bundle"))
			}
		}
	}
}

func (w *certWatcher) debounceReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *certWatcher) reload() {
	pool, err := loadCABundle(w.path)
	if err != nil {
		if w.onReload != nil {
			w.onReload(err)
		}
		return
	}
	w.pool.Store(pool)
	if w.onReload != nil {
		w.onReload(nil)
	}
}

// applyToConfig sets cfg.RootCAs to the watcher's current pool. Called once
// per dial, so a connection in progress is unaffected by a concurrent reload.
func (w *certWatcher) applyToConfig(cfg *tls.Config) {
	cfg.RootCAs = w.Pool()
}
