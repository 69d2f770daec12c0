// Package manager ties the registry and group packages together into
// the public surface spec.md names directly: create, find, delete. It
// corresponds to nk_thread_group_create/find/delete/init/deinit in the
// source.
package manager

import (
	"github.com/nautilus-aerokernel/threadgroup/common/errkind"
	"github.com/nautilus-aerokernel/threadgroup/common/logging"
	"github.com/nautilus-aerokernel/threadgroup/common/pubsub"
	"github.com/nautilus-aerokernel/threadgroup/group"
	"github.com/nautilus-aerokernel/threadgroup/registry"
)

var logger = logging.GetLogger("manager")

// Manager owns one registry and the group configuration new groups are
// constructed with. A process typically constructs exactly one Manager
// (nk_thread_group_init's role), but tests are free to construct many
// isolated ones.
type Manager struct {
	reg    *registry.Registry
	cfg    group.Config
	Events *pubsub.Broker
}

// New constructs a Manager with the given group configuration and a
// fresh diagnostics event broker.
func New(cfg group.Config) *Manager {
	return &Manager{
		reg:    registry.New(),
		cfg:    cfg,
		Events: pubsub.NewBroker(),
	}
}

// Create allocates and registers a new, empty Group named name,
// rejecting a duplicate name (spec.md §4.2).
func (m *Manager) Create(name string) (*group.Group, error) {
	id := m.reg.NextGroupID()
	g, err := group.New(m.cfg, m.Events, id, name)
	if err != nil {
		return nil, err
	}
	if err := m.reg.Add(g); err != nil {
		return nil, err
	}
	logger.Debug("group created", "name", name, "id", id)
	return g, nil
}

// Find looks up a group by name, returning an errkind.NotFound error on
// a miss.
func (m *Manager) Find(name string) (*group.Group, error) {
	h, err := m.reg.Find(name)
	if err != nil {
		return nil, err
	}
	g, ok := h.(*group.Group)
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "group %q", name)
	}
	return g, nil
}

// Delete removes g from the registry, refusing if it is non-empty
// (errkind.NotEmpty).
func (m *Manager) Delete(g *group.Group) error {
	if err := m.reg.Delete(g); err != nil {
		return err
	}
	logger.Debug("group deleted", "name", g.Name(), "id", g.ID())
	return nil
}

// NumGroups returns the current count of live groups.
func (m *Manager) NumGroups() int {
	return m.reg.NumGroups()
}
