package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/abecu-hub/go-bus/pkg/servicebus/metrics"
	"github.com/abecu-hub/go-bus/pkg/servicebus/timeout"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	lockFileName      = "lock.txt"
	defaultRetryDelay = 10 * time.Millisecond
)

// entry is the JSON file body of a deferred message.
type entry struct {
	Headers map[string]string `json:"Headers"`
	Body    []byte            `json:"Body"`
}

/*
Manager keeps one JSON file per deferred message in a directory. Files are named by their due
time so that the directory listing is in due order. A lock file in the same directory serializes
every process working on it.
*/
type Manager struct {
	basePath    string
	lockFile    string
	now         func() time.Time
	retryDelay  time.Duration
	lockTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Collector
}

func WithClock(now func() time.Time) func(*Manager) {
	return func(m *Manager) {
		m.now = now
	}
}

// Give up acquiring the lock file after the given duration. Zero waits until the context is done.
func WithLockTimeout(d time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.lockTimeout = d
	}
}

func WithRetryDelay(d time.Duration) func(*Manager) {
	return func(m *Manager) {
		if d > 0 {
			m.retryDelay = d
		}
	}
}

func WithLogger(logger *zap.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(collector *metrics.Collector) func(*Manager) {
	return func(m *Manager) {
		m.metrics = collector
	}
}

// Create a timeout manager working on the given directory, creating it and its lock file if necessary.
func CreateManager(basePath string, options ...func(*Manager)) (*Manager, error) {
	m := &Manager{
		basePath:   basePath,
		lockFile:   filepath.Join(basePath, lockFileName),
		now:        time.Now,
		retryDelay: defaultRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(m)
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(m.lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case err == nil:
		_, err = f.WriteString("A")
		closeErr := f.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
	case errors.Is(err, os.ErrExist):
	default:
		return nil, err
	}
	return m, nil
}

var _ timeout.Manager = (*Manager)(nil)

// Defer stores the message until dueTime.
func (m *Manager) Defer(ctx context.Context, dueTime time.Time, headers map[string]string, body []byte) error {
	lock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer m.unlock(lock)

	prefix := EncodeDueTime(dueTime)
	counter, err := m.nextCounter(prefix)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(&entry{Headers: headers, Body: body})
	if err != nil {
		return err
	}
	name := fileName(prefix, counter)
	if err = writeAtomic(filepath.Join(m.basePath, name), raw); err != nil {
		return err
	}

	m.metrics.TimeoutDeferred()
	m.logger.Debug("deferred message",
		zap.String("file", name),
		zap.Time("due", dueTime.UTC()))
	return nil
}

/*
GetDueMessages locks the directory and returns every entry due now. The lock is held until the
result is released, so no other process can defer or pull messages in the meantime.
*/
func (m *Manager) GetDueMessages(ctx context.Context) (*timeout.DueMessages, error) {
	lock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}

	paths, err := m.duePaths(EncodeDueTime(m.now()))
	if err != nil {
		m.unlock(lock)
		return nil, err
	}
	if len(paths) > 0 {
		m.logger.Debug("found due messages", zap.Int("count", len(paths)))
	}

	seq := func(yield func(*timeout.DueMessage, error) bool) {
		for _, path := range paths {
			raw, err := os.ReadFile(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}
			e := new(entry)
			if err = json.Unmarshal(raw, e); err != nil {
				yield(nil, fmt.Errorf("corrupt timeout file %s: %w", path, err))
				return
			}

			m.metrics.TimeoutDue()
			if !yield(timeout.NewDueMessage(e.Headers, e.Body, m.completion(path)), nil) {
				return
			}
		}
	}
	return timeout.NewDueMessages(seq, func() { m.unlock(lock) }), nil
}

func (m *Manager) completion(path string) func() error {
	return func() error {
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		m.metrics.TimeoutCompleted()
		return nil
	}
}

func (m *Manager) duePaths(now string) ([]string, error) {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		prefix, _, ok := parseFileName(e.Name())
		if !ok || !isDue(prefix, now) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(m.basePath, name)
	}
	return paths, nil
}

// nextCounter returns one more than the highest counter in use for the prefix.
func (m *Manager) nextCounter(prefix string) (int, error) {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, e := range entries {
		p, counter, ok := parseFileName(e.Name())
		if ok && p == prefix && counter >= next {
			next = counter + 1
		}
	}
	return next, nil
}

func (m *Manager) lock(ctx context.Context) (*flock.Flock, error) {
	started := time.Now()
	lock, err := acquire(ctx, m.lockFile, m.retryDelay, m.lockTimeout)
	m.metrics.LockWait(time.Since(started))
	if err != nil {
		m.logger.Warn("could not acquire timeout lock", zap.String("path", m.lockFile), zap.Error(err))
		return nil, err
	}
	return lock, nil
}

func (m *Manager) unlock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		m.logger.Error("could not release timeout lock", zap.String("path", m.lockFile), zap.Error(err))
	}
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
