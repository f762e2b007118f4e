// Package shim defines the shim-IPCP driver contract and a registry that
// starts and stops whichever drivers the running instance's configuration
// names (spec.md §4.5): each shim translates flow-allocation requests and
// responses between the RINA kernel interface and a non-RINA transport.
package shim

import (
	"context"
	"fmt"
	"sync"

	"github.com/rina-project/ipcpd/internal/logger"
)

// Driver is one shim IPCP (shim-hv, shim-udp4, ...). Grounded on the
// teacher's pkg/controlplane/runtime/adapters.ProtocolAdapter interface
// (Serve/Stop/Protocol/Port), generalized to a shim's narrower identity
// (Name) since a shim has no listen port of its own in the NFS/SMB sense.
type Driver interface {
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// Factory constructs a Driver from nothing but its own configuration,
// mirroring adapters.AdapterFactory.
type Factory func() (Driver, error)

type entry struct {
	driver Driver
	cancel context.CancelFunc
	errCh  chan error
}

// Registry manages the lifecycle of the shim drivers an ipcpd process
// starts, adapted from adapters.Service: register, start all, stop all.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Start launches driver on its own goroutine under a child of ctx, returning
// an error only if a driver with the same Name() is already running.
func (r *Registry) Start(ctx context.Context, driver Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[driver.Name()]; exists {
		return fmt.Errorf("shim: driver %q already running", driver.Name())
	}

	driverCtx, cancel := context.WithCancel(ctx)
	e := &entry{driver: driver, cancel: cancel, errCh: make(chan error, 1)}
	r.entries[driver.Name()] = e

	go func() {
		e.errCh <- driver.Serve(driverCtx)
	}()

	return nil
}

// Stop stops the named driver and waits for its Serve goroutine to return.
func (r *Registry) Stop(ctx context.Context, name string) error {
	r.mu.Lock()
	e, exists := r.entries[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("shim: driver %q not running", name)
	}
	delete(r.entries, name)
	r.mu.Unlock()

	if err := e.driver.Stop(ctx); err != nil {
		logger.Warn("shim: driver stop error", "driver", name, "error", err)
	}
	e.cancel()

	select {
	case err := <-e.errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every running driver, logging (not failing) individual
// stop errors so one stuck shim cannot block the others from shutting down.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		if err := r.Stop(ctx, name); err != nil {
			logger.Warn("shim: error stopping driver", "driver", name, "error", err)
		}
	}
}

// Running reports the names of currently-started drivers.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
