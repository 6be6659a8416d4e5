package wasm

import (
	"fmt"
	"sync"
)

// Namespace is the cross-module import registry: every instantiated
// module is registered here under a name (its declared name, or one given
// by ModuleConfig.WithName), and a subsequent module's imports resolve
// against whatever is currently registered. This mirrors the same
// namespace: instantiating two modules under the same name is an error
// unless the first is explicitly released first.
type Namespace struct {
	mux     sync.RWMutex
	modules map[string]*ModuleInstance
}

// NewNamespace returns an empty Namespace.
func NewNamespace() *Namespace {
	return &Namespace{modules: map[string]*ModuleInstance{}}
}

// Register makes instance visible to subsequent imports under name. It is
// an error to register two live instances under the same name.
func (n *Namespace) Register(name string, instance *ModuleInstance) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	if _, ok := n.modules[name]; ok {
		return fmt.Errorf("module[%s] has already been instantiated", name)
	}
	n.modules[name] = instance
	return nil
}

// Unregister removes name from the namespace, freeing it for reuse.
func (n *Namespace) Unregister(name string) {
	n.mux.Lock()
	defer n.mux.Unlock()
	delete(n.modules, name)
}

// Module looks up a previously registered instance by name.
func (n *Namespace) Module(name string) (*ModuleInstance, bool) {
	n.mux.RLock()
	defer n.mux.RUnlock()
	m, ok := n.modules[name]
	return m, ok
}
