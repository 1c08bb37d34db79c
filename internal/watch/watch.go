// Package watch compresses source images as they appear in a directory.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is compressed.
const DefaultDebounce = 500 * time.Millisecond

// JobFunc compresses input into output.
type JobFunc func(ctx context.Context, input, output string) error

// Config configures a Watcher.
type Config struct {
	Dir       string
	OutputDir string
	OutputExt string                     // e.g. ".pvr"
	Accept    func(filename string) bool // nil accepts every file
	Job       JobFunc
	Workers   int           // concurrent jobs, default 1
	Debounce  time.Duration // default DefaultDebounce
	Logger    *log.Logger
}

// Watcher watches Dir and runs Job for every accepted file that is created
// or written.
type Watcher struct {
	cfg     Config
	watcher *fsnotify.Watcher
	logger  *log.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher. Call Start to begin watching.
func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	if cfg.Job == nil {
		return nil, fmt.Errorf("job function is required")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.Dir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[watch] ", log.LstdFlags|log.Lmsgprefix)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:     cfg,
		watcher: watcher,
		logger:  cfg.Logger,
		pending: make(map[string]*time.Timer),
		queue:   make(chan string, 64),
	}, nil
}

// Start begins watching. It returns once the watch is registered.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := w.watcher.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.worker()
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.watchLoop()
	}()

	w.logger.Printf("watching %s (output=%s, workers=%d)", w.cfg.Dir, w.cfg.OutputDir, w.cfg.Workers)
	return nil
}

// Stop stops watching, drops pending files and waits for running jobs.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}

	w.mu.Lock()
	for name, timer := range w.pending {
		timer.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	w.logger.Printf("watcher stopped")
	return err
}

// OutputPath returns where the compressed version of input is written.
func (w *Watcher) OutputPath(input string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(w.cfg.OutputDir, base+w.cfg.OutputExt)
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.accepts(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	// Never pick up our own output when writing next to the sources.
	if w.cfg.OutputExt != "" && strings.EqualFold(filepath.Ext(name), w.cfg.OutputExt) {
		return false
	}
	if w.cfg.Accept == nil {
		return true
	}
	return w.cfg.Accept(name)
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case w.queue <- path:
		case <-w.ctx.Done():
		}
	})
}

func (w *Watcher) worker() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case input := <-w.queue:
			w.run(input)
		}
	}
}

func (w *Watcher) run(input string) {
	if info, err := os.Stat(input); err != nil || !info.Mode().IsRegular() {
		return
	}

	output := w.OutputPath(input)
	start := time.Now()
	w.logger.Printf("compressing %s -> %s", input, output)

	if err := w.cfg.Job(w.ctx, input, output); err != nil {
		w.logger.Printf("error compressing %s: %v", input, err)
		return
	}
	w.logger.Printf("compressed %s in %v", input, time.Since(start).Round(time.Millisecond))
}
