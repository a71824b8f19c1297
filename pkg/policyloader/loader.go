package policyloader

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/openleash/openleash/pkg/canonicalize"
	"github.com/openleash/openleash/pkg/contracts"
)

// Loader caches parsed policies keyed by the SHA-256 of their YAML text, so
// the authorization path does not re-parse and re-validate a stored policy
// on every request. Cached policies are shared and must be treated as
// read-only.
type Loader struct {
	mu       sync.RWMutex
	policies map[string]*contracts.Policy // content hash -> policy
	maxSize  int
	onReload func(hash string, policy *contracts.Policy)
}

// NewLoader creates a Loader holding at most maxSize parsed policies. When
// full, the cache is reset.
func NewLoader(maxSize int) *Loader {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &Loader{
		policies: make(map[string]*contracts.Policy),
		maxSize:  maxSize,
	}
}

// OnReload registers a callback invoked whenever a policy is parsed rather
// than served from cache.
func (l *Loader) OnReload(fn func(hash string, policy *contracts.Policy)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = fn
}

// Get returns the parsed form of policyYAML.
func (l *Loader) Get(policyYAML string) (*contracts.Policy, error) {
	hash := canonicalize.HashBytes([]byte(policyYAML))

	l.mu.RLock()
	p, ok := l.policies[hash]
	l.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := Load([]byte(policyYAML))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if len(l.policies) >= l.maxSize {
		l.policies = make(map[string]*contracts.Policy)
	}
	l.policies[hash] = p
	callback := l.onReload
	l.mu.Unlock()

	if callback != nil {
		callback(hash, p)
	}
	return p, nil
}

// Len reports the number of cached policies.
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.policies)
}

// LoadFile reads and loads a single policy file.
func LoadFile(path string) (*contracts.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policyloader: read file: %w", err)
	}
	return Load(data)
}

// ValidateDir validates every .yaml/.yml file in dir and returns the
// problems per file name. Files without problems are omitted.
func ValidateDir(dir string) (map[string][]contracts.FieldError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("policyloader: read dir %s: %w", dir, err)
	}

	out := make(map[string][]contracts.FieldError)
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("policyloader: read %s: %w", entry.Name(), err)
		}
		if errs := ValidateYAML(data); len(errs) > 0 {
			out[entry.Name()] = errs
		}
	}
	return out, nil
}
