package inference

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/cache"
	"github.com/sells-group/contractml/internal/model"
)

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// BasePath anchors relative model paths.
	BasePath  string
	CacheSize int
	CacheTTL  time.Duration
	Observer  cache.Observer
	Factories map[string]Factory
}

// Runtime loads and caches backends. Each (kind, path) is loaded at most
// once per cache lifetime, even under concurrent requests.
type Runtime struct {
	basePath string

	mu        sync.RWMutex
	factories map[string]Factory

	loaded *cache.Cache[Backend]
}

// NewRuntime returns a Runtime with the given factories.
func NewRuntime(opts RuntimeOptions) *Runtime {
	r := &Runtime{
		basePath:  opts.BasePath,
		factories: make(map[string]Factory, len(opts.Factories)),
		loaded: cache.New[Backend](cache.Config{
			Name:     "models",
			Size:     opts.CacheSize,
			TTL:      opts.CacheTTL,
			Observer: opts.Observer,
		}),
	}
	for kind, f := range opts.Factories {
		r.factories[strings.ToLower(kind)] = f
	}
	return r
}

// Register adds or replaces the factory for kind.
func (r *Runtime) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(kind)] = f
}

// Kinds returns the kinds with a registered factory.
func (r *Runtime) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Resolve returns the on-disk path of a model reference.
func (r *Runtime) Resolve(path string) string {
	if filepath.IsAbs(path) || r.basePath == "" {
		return path
	}
	return filepath.Join(r.basePath, path)
}

// Load returns the backend for ref, loading it on first use. An explicit
// kind on ref wins over detection. Failures are *model.ModelError.
func (r *Runtime) Load(ctx context.Context, ref model.ModelRef) (Backend, error) {
	path := r.Resolve(ref.Path)
	if _, err := os.Stat(path); err != nil {
		return nil, &model.ModelError{Path: path, Op: model.OpLoad, Err: eris.New("model file not found")}
	}

	kind := strings.ToLower(ref.Kind)
	if kind == "" {
		kind = DetectKind(path)
	}

	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &model.ModelError{Path: path, Op: model.OpLoad, Err: eris.Errorf("unsupported model type %q", kind)}
	}

	return r.loaded.GetOrLoad(ctx, kind+":"+path, func(ctx context.Context) (Backend, error) {
		zap.L().Info("inference: loading model", zap.String("path", path), zap.String("type", kind))
		b, err := factory(ctx, path, kind)
		if err != nil {
			if _, isModel := model.AsModelError(err); isModel {
				return nil, err
			}
			return nil, &model.ModelError{Path: path, Op: model.OpLoad, Err: err}
		}
		return b, nil
	})
}

// Clear drops every loaded backend.
func (r *Runtime) Clear() {
	r.loaded.Clear()
}

// Stats returns the backend cache counters.
func (r *Runtime) Stats() cache.Stats {
	return r.loaded.Stats()
}
