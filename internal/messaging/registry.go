package messaging

import (
	"fmt"
	"sort"
	"sync"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes a client factory available under a driver name. Protocol
// engine packages call this from init; the binary selects one by config.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("messaging: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("messaging: Register called twice for driver " + name)
	}
	drivers[name] = factory
}

// Driver returns the factory registered under name.
func Driver(name string) (Factory, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	f, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("messaging: unknown driver %q (registered: %v)", name, driverNames())
	}
	return f, nil
}

func driverNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
