package pipeline

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/exp/slog"
)

// changeQueue collects shader paths reported by the watcher goroutine until the render goroutine
// drains them
type changeQueue struct {
	mutex sync.Mutex
	paths []string
}

func (q *changeQueue) push(path string) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.paths = append(q.paths, path)
}

func (q *changeQueue) drain() []string {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	paths := q.paths
	q.paths = nil
	return paths
}

// Watcher reports writes to shader files used by a Manager's configs. It only queues the
// changes; Manager.ApplyWatchedReloads turns them into reloads on the render goroutine.
type Watcher struct {
	logger  *slog.Logger
	manager *Manager
	watcher *fsnotify.Watcher

	mutex       sync.Mutex
	directories map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// Watch starts watching the directories of every shader registered so far, and of every shader
// added later, until ctx is cancelled or the watcher is closed
func (m *Manager) Watch(ctx context.Context) (*Watcher, error) {
	if m.watcher != nil {
		return nil, errors.New("pipeline manager is already watching shaders")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create shader watcher")
	}

	ctx, cancel := context.WithCancel(ctx)
	watcher := &Watcher{
		logger:      m.logger,
		manager:     m,
		watcher:     fsWatcher,
		directories: make(map[string]struct{}),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	m.configs.Iter(func(_ string, config Config) bool {
		watcher.watchConfig(config)
		return false
	})

	go watcher.run(ctx)

	m.watcher = watcher
	return watcher, nil
}

func (w *Watcher) watchConfig(config Config) {
	for _, shader := range config.Shaders {
		dir := filepath.Dir(w.manager.resolve(shader.Path))

		w.mutex.Lock()
		_, watched := w.directories[dir]
		if !watched {
			w.directories[dir] = struct{}{}
		}
		w.mutex.Unlock()

		if watched {
			continue
		}

		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("unable to watch shader directory", slog.String("Directory", dir), slog.Any("error", err))
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.manager.NotifyShaderChanged(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("shader watcher error", slog.Any("error", err))
		}
	}
}

// Directories returns the number of directories being watched
func (w *Watcher) Directories() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return len(w.directories)
}

// Close stops the watcher goroutine and waits for it to exit
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done

	if w.manager.watcher == w {
		w.manager.watcher = nil
	}
	return err
}

// NotifyShaderChanged queues a reload of every pipeline using the shader at path. It may be
// called from any goroutine; the reload happens at the next ApplyWatchedReloads.
func (m *Manager) NotifyShaderChanged(path string) {
	m.changes.push(filepath.Clean(path))
}

// ApplyWatchedReloads marks every pipeline whose shaders changed since the last call dirty, and
// returns how many were marked. Paths no config uses are ignored.
func (m *Manager) ApplyWatchedReloads() int {
	paths := m.changes.drain()
	if len(paths) == 0 {
		return 0
	}

	changed := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		changed[path] = struct{}{}
	}

	reloaded := 0
	m.configs.Iter(func(id string, config Config) bool {
		for _, shader := range config.Shaders {
			if _, ok := changed[m.resolve(shader.Path)]; ok {
				if !m.IsDirty(id) {
					m.logger.Info("shader changed, reloading pipeline", slog.String("ID", id), slog.String("Shader", shader.Path))
				}
				m.dirty[id] = struct{}{}
				reloaded++
				break
			}
		}
		return false
	})

	return reloaded
}
