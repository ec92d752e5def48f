package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/strandlabs/strand/pkg/models"
)

// Handler executes one local skill action.
type Handler func(ctx context.Context, params map[string]any, ec *ExecutionContext) (any, error)

// HandlerSet binds Go handlers to skill actions. Keys are either
// "<skill>.<action>" or a bare "<action>"; the qualified form wins.
type HandlerSet struct {
	Handlers map[string]Handler

	// Init runs during source initialization, Destroy during teardown.
	Init    func(ctx context.Context) error
	Destroy func(ctx context.Context) error
}

// scriptsDir is the per-skill directory searched for action
// executables when no handler is bound.
const scriptsDir = "scripts"

// reloadDebounce coalesces bursts of filesystem events into one
// manifest reload.
const reloadDebounce = 200 * time.Millisecond

// LocalSource discovers SKILL.md manifests under configured
// directories and exposes their actions as tools. Action dispatch
// tries, in order: a bound handler, an executable at
// <skill-dir>/scripts/<action>, and finally a failing placeholder.
type LocalSource struct {
	name     string
	dirs     []string
	handlers *HandlerSet
	watch    bool
	logger   *slog.Logger

	mu        sync.RWMutex
	manifests map[string]*Manifest // by skill name

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

// LocalOption configures a LocalSource.
type LocalOption func(*LocalSource)

// WithHandlers binds a handler table to the source.
func WithHandlers(hs *HandlerSet) LocalOption {
	return func(s *LocalSource) { s.handlers = hs }
}

// WithWatch reloads manifests when skill directories change.
func WithWatch() LocalOption {
	return func(s *LocalSource) { s.watch = true }
}

// NewLocalSource creates a local source over the given skill
// directories.
func NewLocalSource(name string, dirs []string, logger *slog.Logger, opts ...LocalOption) *LocalSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LocalSource{
		name:      name,
		dirs:      dirs,
		logger:    logger.With("component", "skills.local", "source", name),
		manifests: make(map[string]*Manifest),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalSource) Name() string { return s.name }
func (s *LocalSource) Type() string { return TypeLocal }

// Initialize discovers manifests, runs the handler set's Init hook,
// and starts the directory watcher when enabled.
func (s *LocalSource) Initialize(ctx context.Context) error {
	if err := s.reload(); err != nil {
		return err
	}
	if s.handlers != nil && s.handlers.Init != nil {
		if err := s.handlers.Init(ctx); err != nil {
			return fmt.Errorf("init hook: %w", err)
		}
	}
	if s.watch {
		if err := s.startWatcher(); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	return nil
}

// GetTools returns one descriptor per declared action across all
// discovered skills.
func (s *LocalSource) GetTools(_ context.Context) ([]*models.ToolDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ToolDescriptor
	for _, m := range s.manifests {
		tools, err := m.ToolDescriptors()
		if err != nil {
			return nil, err
		}
		out = append(out, tools...)
	}
	return out, nil
}

// Execute dispatches a "<skill>.<action>" invocation.
func (s *LocalSource) Execute(ctx context.Context, toolName string, params map[string]any, ec *ExecutionContext) (any, error) {
	skillName, actionName, ok := strings.Cut(toolName, ".")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	s.mu.RLock()
	manifest, found := s.manifests[skillName]
	s.mu.RUnlock()
	if !found || !manifest.hasAction(actionName) {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}
	if err := manifest.ValidateParams(actionName, params); err != nil {
		return nil, fmt.Errorf("invalid parameters for %s: %w", toolName, err)
	}

	if handler := s.lookupHandler(toolName, actionName); handler != nil {
		return handler(ctx, params, ec)
	}

	for _, script := range []string{
		filepath.Join(manifest.Dir, scriptsDir, actionName),
		filepath.Join(manifest.Dir, scriptsDir, actionName+".sh"),
	} {
		if isExecutable(script) {
			return s.runScript(ctx, script, params)
		}
	}

	return nil, fmt.Errorf("action %s has no handler or script", toolName)
}

// Destroy stops the watcher and runs the handler set's Destroy hook.
func (s *LocalSource) Destroy(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("failed to close watcher", "error", err)
		}
	}
	if s.handlers != nil && s.handlers.Destroy != nil {
		if err := s.handlers.Destroy(ctx); err != nil {
			return fmt.Errorf("destroy hook: %w", err)
		}
	}
	return nil
}

// Skills returns the currently loaded manifests.
func (s *LocalSource) Skills() []*Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Manifest, 0, len(s.manifests))
	for _, m := range s.manifests {
		out = append(out, m)
	}
	return out
}

func (s *LocalSource) lookupHandler(toolName, actionName string) Handler {
	if s.handlers == nil {
		return nil
	}
	if h, ok := s.handlers.Handlers[toolName]; ok {
		return h
	}
	if h, ok := s.handlers.Handlers[actionName]; ok {
		return h
	}
	return nil
}

// runScript invokes the action executable with the parameters as JSON
// on stdin and returns trimmed stdout.
func (s *LocalSource) runScript(ctx context.Context, script string, params map[string]any) (any, error) {
	input, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	cmd := exec.CommandContext(ctx, script)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("script %s: %s", filepath.Base(script), msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// reload re-discovers manifests under the configured directories and
// atomically swaps the manifest set.
func (s *LocalSource) reload() error {
	manifests := make(map[string]*Manifest)
	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read skills dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), SkillFilename)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			m, err := ParseManifestFile(path)
			if err != nil {
				s.logger.Warn("failed to parse skill manifest", "path", path, "error", err)
				continue
			}
			manifests[m.Name] = m
		}
	}

	s.mu.Lock()
	s.manifests = manifests
	s.mu.Unlock()
	s.logger.Debug("loaded skills", "count", len(manifests))
	return nil
}

func (s *LocalSource) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range s.dirs {
		if err := watcher.Add(dir); err != nil {
			s.logger.Warn("failed to watch skills dir", "dir", dir, "error", err)
		}
	}
	s.watcher = watcher

	go func() {
		var pending *time.Timer
		var pendingC <-chan time.Time
		for {
			select {
			case <-s.done:
				if pending != nil {
					pending.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				s.logger.Debug("skills dir changed", "path", event.Name)
				if pending == nil {
					pending = time.NewTimer(reloadDebounce)
					pendingC = pending.C
				} else {
					pending.Reset(reloadDebounce)
				}
			case <-pendingC:
				pending = nil
				pendingC = nil
				if err := s.reload(); err != nil {
					s.logger.Warn("skill reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (m *Manifest) hasAction(name string) bool {
	for _, a := range m.Actions {
		if a.Name == name {
			return true
		}
	}
	return false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
