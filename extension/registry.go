package extension

import (
	"sort"
	"strings"
	"sync"
)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a factory available under module for the Loader. It is meant
// to be called from init and panics on a nil factory or a duplicate module.
func Register(module string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("extension: Register factory is nil")
	}
	key := strings.ToLower(module)
	if _, dup := factories[key]; dup {
		panic("extension: Register called twice for module " + module)
	}
	factories[key] = f
}

func Registered(module string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[strings.ToLower(module)]
	return f, ok
}

// Modules lists registered module names, sorted.
func Modules() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for m := range factories {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
