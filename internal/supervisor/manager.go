package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/rdkcentral/dobby"
)

// Manager owns the live container table: at most one Container per
// ContainerId, descriptors unique and allocated from DescriptorAllocator.
// All mutations go through a single coarse mutex, matching the teacher's
// own manager-level locking granularity rather than per-container locks.
type Manager struct {
	mu         sync.Mutex
	rt         *dobby.Runtime
	allocator  *DescriptorAllocator
	byID       map[string]*dobby.Container
	byDesc     map[int]*dobby.Container
	log        zerolog.Logger
}

// NewManager constructs a Manager bound to rt, the runtime driver used
// for every container's lifecycle operations.
func NewManager(rt *dobby.Runtime, log zerolog.Logger) *Manager {
	return &Manager{
		rt:        rt,
		allocator: NewDescriptorAllocator(),
		byID:      map[string]*dobby.Container{},
		byDesc:    map[int]*dobby.Container{},
		log:       log,
	}
}

// Start allocates a descriptor, creates and starts the container, and
// adds it to the table. Returns the assigned descriptor.
func (m *Manager) Start(ctx context.Context, cfg *dobby.ContainerConfig) (int, error) {
	m.mu.Lock()
	if _, exists := m.byID[cfg.ContainerID]; exists {
		m.mu.Unlock()
		return 0, fmt.Errorf("container %q already exists", cfg.ContainerID)
	}
	desc, err := m.allocator.Allocate()
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}

	c := &dobby.Container{
		Descriptor:      desc,
		ContainerConfig: cfg,
		RuntimePid:      -1,
		State:           dobby.StateStarting,
		Log:             m.log.With().Str("id", cfg.ContainerID).Int("descriptor", desc).Logger(),
	}
	m.byID[cfg.ContainerID] = c
	m.byDesc[desc] = c
	m.mu.Unlock()

	pid, err := m.rt.Create(ctx, cfg, nil)
	if err != nil {
		m.removeLocked(c)
		return 0, err
	}

	if err := m.rt.Start(ctx, cfg.ContainerID); err != nil {
		m.removeLocked(c)
		return 0, err
	}

	m.mu.Lock()
	c.RuntimePid = pid
	c.State = dobby.StateRunning
	m.mu.Unlock()

	return desc, nil
}

// Stop signals a container according to its current state and clears its
// restart-on-crash policy; a user-initiated stop is permanent. Teardown
// (bundle cleanup, the ContainerStopped callback) is not done here: it
// happens asynchronously in the reaper once the process has actually
// exited. withPrejudice selects SIGKILL over SIGTERM and also overrides
// the refusal to kill a Paused container.
func (m *Manager) Stop(ctx context.Context, descriptor int, withPrejudice bool) error {
	c, err := m.lookup(descriptor)
	if err != nil {
		return err
	}

	m.mu.Lock()
	c.Restart.Enabled = false
	state := c.State
	m.mu.Unlock()

	switch state {
	case dobby.StateStarting:
		// Cooperative cancellation: preStart hooks consult this flag and
		// abort the start sequence themselves. Nothing to signal yet.
		m.mu.Lock()
		c.CurseOfDeath = true
		m.mu.Unlock()
		return nil

	case dobby.StateStopping:
		return nil

	case dobby.StatePaused:
		if !withPrejudice {
			return dobby.NewStateMismatch(fmt.Errorf("container %q is paused", c.ContainerID))
		}
		if err := m.rt.Resume(ctx, c.ContainerID); err != nil {
			return err
		}
		m.mu.Lock()
		c.State = dobby.StateStopping
		m.mu.Unlock()
		return m.rt.Kill(ctx, c.ContainerID, unix.SIGKILL, true)

	case dobby.StateRunning:
		m.mu.Lock()
		c.State = dobby.StateStopping
		m.mu.Unlock()
		signum := unix.SIGTERM
		if withPrejudice {
			signum = unix.SIGKILL
		}
		return m.rt.Kill(ctx, c.ContainerID, signum, true)

	default:
		return dobby.NewStateMismatch(fmt.Errorf("container %q is in an unknown state", c.ContainerID))
	}
}

// Pause/Resume transition a container between Running and Paused; both
// reject a transition the current state doesn't permit rather than
// silently treating a repeat call as a no-op.
func (m *Manager) Pause(ctx context.Context, descriptor int) error {
	c, err := m.lookup(descriptor)
	if err != nil {
		return err
	}
	m.mu.Lock()
	state := c.State
	m.mu.Unlock()
	if state != dobby.StateRunning {
		return dobby.NewStateMismatch(fmt.Errorf("container %q is not running", c.ContainerID))
	}
	if err := m.rt.Pause(ctx, c.ContainerID); err != nil {
		return err
	}
	m.mu.Lock()
	c.State = dobby.StatePaused
	m.mu.Unlock()
	return nil
}

func (m *Manager) Resume(ctx context.Context, descriptor int) error {
	c, err := m.lookup(descriptor)
	if err != nil {
		return err
	}
	m.mu.Lock()
	state := c.State
	m.mu.Unlock()
	if state != dobby.StatePaused {
		return dobby.NewStateMismatch(fmt.Errorf("container %q is not paused", c.ContainerID))
	}
	if err := m.rt.Resume(ctx, c.ContainerID); err != nil {
		return err
	}
	m.mu.Lock()
	c.State = dobby.StateRunning
	m.mu.Unlock()
	return nil
}

// Lookup returns the live Container for a descriptor.
func (m *Manager) Lookup(descriptor int) (*dobby.Container, error) {
	return m.lookup(descriptor)
}

func (m *Manager) lookup(descriptor int) (*dobby.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byDesc[descriptor]
	if !ok {
		return nil, fmt.Errorf("no container with descriptor %d", descriptor)
	}
	return c, nil
}

// ContainerIDs lists every live container id, mirroring
// DobbyManager::getContainerIds.
func (m *Manager) ContainerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) removeLocked(c *dobby.Container) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, c.ContainerID)
	delete(m.byDesc, c.Descriptor)
	m.allocator.Free(c.Descriptor)
}
