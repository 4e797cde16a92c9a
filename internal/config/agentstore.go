package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/logging"
	"github.com/hugo-lorenzo-mato/crewflow/internal/templates"
)

const (
	defaultLockTTL  = time.Minute
	defaultLockWait = 5 * time.Second
	lockPollDelay   = 25 * time.Millisecond
	watchDebounce   = 50 * time.Millisecond
)

// AgentStore persists the agent configuration document. Saves are atomic
// and serialized by an in-process mutex plus a <path>.lock file shared with
// other processes.
type AgentStore struct {
	path     string
	lockPath string
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *logging.Logger
	mu       sync.Mutex
}

// AgentStoreOption configures an AgentStore.
type AgentStoreOption func(*AgentStore)

// WithLockTTL sets the age after which a lock file is considered stale.
func WithLockTTL(d time.Duration) AgentStoreOption {
	return func(s *AgentStore) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithLockWait bounds how long a save waits for another writer's lock.
func WithLockWait(d time.Duration) AgentStoreOption {
	return func(s *AgentStore) {
		s.lockWait = d
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *logging.Logger) AgentStoreOption {
	return func(s *AgentStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAgentStore creates a store for the document at path.
func NewAgentStore(path string, opts ...AgentStoreOption) *AgentStore {
	path = filepath.Clean(path)
	s := &AgentStore{
		path:     path,
		lockPath: path + ".lock",
		lockTTL:  defaultLockTTL,
		lockWait: defaultLockWait,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the document path.
func (s *AgentStore) Path() string {
	return s.path
}

// Load reads and validates the document. A missing file yields an error
// matching fs.ErrNotExist.
func (s *AgentStore) Load() (*AgentDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading agent config %s: %w", s.path, err)
	}
	return DecodeAgentDocument(data)
}

// LoadOrDefault loads the document, falling back to DefaultDocument when
// the file does not exist.
func (s *AgentStore) LoadOrDefault(reg *templates.Registry) (*AgentDocument, error) {
	doc, err := s.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultDocument(reg), nil
	}
	return doc, err
}

// DecodeAgentDocument strictly decodes and validates a document.
func DecodeAgentDocument(data []byte) (*AgentDocument, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc AgentDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, core.ErrConfig(core.CodeParseFailed, "invalid agent config document: "+err.Error()).WithCause(err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// EncodeAgentDocument renders the document as indented JSON.
func EncodeAgentDocument(doc *AgentDocument) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding agent config: %w", err)
	}
	return append(data, '\n'), nil
}

// Save validates and atomically writes doc.
func (s *AgentStore) Save(ctx context.Context, doc *AgentDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	data, err := EncodeAgentDocument(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquireLock(ctx); err != nil {
		return err
	}
	defer s.releaseLock()
	return s.write(data)
}

// Update loads the document, applies fn and saves the result while holding
// the lock, so concurrent updates do not overwrite each other.
func (s *AgentStore) Update(ctx context.Context, fn func(*AgentDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquireLock(ctx); err != nil {
		return err
	}
	defer s.releaseLock()

	doc, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	data, err := EncodeAgentDocument(doc)
	if err != nil {
		return err
	}
	return s.write(data)
}

// Init writes DefaultDocument unless a document exists or force is set.
// It reports whether a document was written.
func (s *AgentStore) Init(ctx context.Context, reg *templates.Registry, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(s.path); err == nil {
			return false, nil
		}
	}
	if err := s.Save(ctx, DefaultDocument(reg)); err != nil {
		return false, err
	}
	return true, nil
}

// SetWorkflowEnabled toggles a workflow of one profile.
func (s *AgentStore) SetWorkflowEnabled(ctx context.Context, agentType, key string, enabled bool) error {
	return s.Update(ctx, func(doc *AgentDocument) error {
		w, err := doc.Workflow(agentType, key)
		if err != nil {
			return err
		}
		w.Enabled = enabled
		return nil
	})
}

func (s *AgentStore) write(data []byte) error {
	if err := AtomicWrite(s.path, data); err != nil {
		return fmt.Errorf("writing agent config %s: %w", s.path, err)
	}
	s.logger.Debug("agent config saved", "path", s.path, "bytes", len(data))
	return nil
}

type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// acquireLock creates the lock file exclusively, waiting up to lockWait for
// a live holder and removing stale locks.
func (s *AgentStore) acquireLock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o750); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	deadline := time.Now().Add(s.lockWait)
	for {
		err := s.tryLock()
		if err == nil {
			return nil
		}
		if !core.IsKind(err, core.KindConfig) || time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return core.ErrCancelled("waiting for agent config lock").WithCause(ctx.Err())
		case <-time.After(lockPollDelay):
		}
	}
}

func (s *AgentStore) tryLock() error {
	if data, err := os.ReadFile(s.lockPath); err == nil {
		if s.lockHeld(data) {
			return core.ErrConfig(core.CodeLockHeld, "agent config is locked by another writer").
				WithDetail("lock", s.lockPath)
		}
		s.logger.Warn("removing stale agent config lock", "path", s.lockPath)
		_ = os.Remove(s.lockPath)
	}

	hostname, _ := os.Hostname()
	data, err := json.Marshal(lockInfo{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshaling lock info: %w", err)
	}
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return core.ErrConfig(core.CodeLockHeld, "agent config lock created by another process")
		}
		return fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(s.lockPath)
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

func (s *AgentStore) lockHeld(data []byte) bool {
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// The holder may not have written its info yet.
		fi, statErr := os.Stat(s.lockPath)
		return statErr == nil && time.Since(fi.ModTime()) < s.lockTTL
	}
	return time.Since(info.AcquiredAt) < s.lockTTL && processExists(info.PID)
}

func (s *AgentStore) releaseLock() {
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("releasing agent config lock", "error", err)
	}
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Watch reloads the document whenever the file changes and passes the
// result to onChange. It returns once the watcher is installed; watching
// stops when ctx is done.
func (s *AgentStore) Watch(ctx context.Context, onChange func(*AgentDocument, error)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating agent config directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// The directory is watched because atomic saves replace the file.
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	go s.watchLoop(ctx, w, onChange)
	return nil
}

func (s *AgentStore) watchLoop(ctx context.Context, w *fsnotify.Watcher, onChange func(*AgentDocument, error)) {
	defer w.Close()
	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			doc, err := s.Load()
			if err != nil {
				s.logger.Warn("reloading agent config failed", "path", s.path, "error", err)
			} else {
				s.logger.Info("agent config reloaded", "path", s.path)
			}
			onChange(doc, err)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("agent config watcher error", "error", err)
		}
	}
}
