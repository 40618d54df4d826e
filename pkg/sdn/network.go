package sdn

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/appnet-org/sdnsim/pkg/table"
)

// Config describes a whole simulated network.
type Config struct {
	Env       Env
	Table     table.Table
	Bootstrap BootstrapConfig
}

// Network is a controller with all its routers and end users running in one process.
type Network struct {
	controller *Controller
	routers    []*Router
	endUsers   []*EndUser
}

// NewNetwork binds every node. If any bind fails, the nodes already created are closed
// and the error is returned.
func NewNetwork(cfg Config) (_ *Network, err error) {
	topo := cfg.Env.Topology
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	n := &Network{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, n.Close())
		}
	}()

	n.controller, err = NewController(cfg.Env, cfg.Table, cfg.Bootstrap)
	if err != nil {
		return nil, err
	}
	starters := make([]Starter, 0, topo.Routers)
	for k := uint8(1); k <= topo.Routers; k++ {
		r, err := NewRouter(cfg.Env, k)
		if err != nil {
			return nil, err
		}
		n.routers = append(n.routers, r)
		starters = append(starters, r)
	}
	for i := uint8(1); i <= topo.EndUsers; i++ {
		e, err := NewEndUser(cfg.Env, i)
		if err != nil {
			return nil, err
		}
		n.endUsers = append(n.endUsers, e)
	}
	if err := n.controller.Attach(starters); err != nil {
		return nil, err
	}
	return n, nil
}

// Start begins the serialized bootstrap.
func (n *Network) Start() error {
	return n.controller.Start()
}

// WaitBootstrapped blocks until every router acknowledged its table or ctx ends.
func (n *Network) WaitBootstrapped(ctx context.Context) error {
	select {
	case <-n.controller.Bootstrapped():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for bootstrap: %w", ctx.Err())
	}
}

// Controller returns the controller.
func (n *Network) Controller() *Controller {
	return n.controller
}

// Router returns router k (1-based).
func (n *Network) Router(k uint8) *Router {
	return n.routers[k-1]
}

// EndUser returns end user i (1-based).
func (n *Network) EndUser(i uint8) *EndUser {
	return n.endUsers[i-1]
}

// Routers returns all routers ordered by number.
func (n *Network) Routers() []*Router {
	return n.routers
}

// EndUsers returns all end users ordered by number.
func (n *Network) EndUsers() []*EndUser {
	return n.endUsers
}

// Close shuts every node down and reports all failures.
func (n *Network) Close() error {
	var err error
	if n.controller != nil {
		err = multierr.Append(err, n.controller.Close())
	}
	for _, r := range n.routers {
		err = multierr.Append(err, r.Close())
	}
	for _, e := range n.endUsers {
		err = multierr.Append(err, e.Close())
	}
	return err
}
