package engine

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/a-essam23/go-huddle/pkg/config"
	"github.com/a-essam23/go-huddle/pkg/pipeline"
)

/*
* The central registry for every request type the server answers. Each entry
* is an ordered chain of steps; configured rate limits are prepended to the
* chain at registration time.
 */
type Registry struct {
	logger *slog.Logger
	limits map[string]config.Limit

	endpoints map[string][]pipeline.Step
	mu        sync.RWMutex
}

// New creates and initializes a new Registry. limits is keyed by lower-cased
// request type and may be nil.
func New(logger *slog.Logger, limits map[string]config.Limit) *Registry {
	return &Registry{
		logger:    logger.With(slog.String("component", "engine")),
		limits:    limits,
		endpoints: make(map[string][]pipeline.Step),
	}
}

// Register binds a request type to its chain. Registering a type twice, or
// with no steps, is a programming error.
func (e *Registry) Register(requestType string, steps ...pipeline.Step) {
	if len(steps) == 0 {
		panic("endpoint registered without steps: " + requestType)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.endpoints[requestType]; exists {
		panic("endpoint already registered: " + requestType)
	}

	chain := make([]pipeline.Step, 0, len(steps)+1)
	if limit, ok := e.limits[strings.ToLower(requestType)]; ok {
		chain = append(chain, RateLimit(limit))
		e.logger.Debug("Rate limit attached", slog.String("requestType", requestType), slog.String("limit", limit.String()))
	}
	e.endpoints[requestType] = append(chain, steps...)
}

func (e *Registry) Lookup(requestType string) ([]pipeline.Step, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	steps, ok := e.endpoints[requestType]
	return steps, ok
}

// RequestTypes returns all registered request types, sorted.
func (e *Registry) RequestTypes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.endpoints))
	for k := range e.endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
