package dobby

import (
	"fmt"
	"time"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

// RestartPolicy is the restart-on-crash bookkeeping carried on a Container.
type RestartPolicy struct {
	Enabled     bool
	ExtraFiles  []int // dup'd fds kept so a respawn can reuse them
	Attempts    int
	LastAttempt time.Time
}

// LifecycleState is the Container's position in its lifecycle state machine.
type LifecycleState int

const (
	StateStarting LifecycleState = iota
	StateRunning
	StatePaused
	StateStopping
)

func (s LifecycleState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ContainerConfig is the input to Runtime.Create: an OCI spec plus the
// identifying/bookkeeping fields the driver needs that are not part of
// the OCI schema itself.
type ContainerConfig struct {
	ContainerID   string
	BundlePath    string
	Spec          *specs.Spec
	ConsoleSocket string
	ConfigPath    string // overrides the default <bundle>/config.json when non-empty
}

// Container is the live record for a container instance, from Runtime.Create
// until the descriptor is freed by the supervisor.
type Container struct {
	Descriptor int
	*ContainerConfig

	// RuntimePid is the pid of the container's init process inside its
	// namespaces -- NOT the pid of the OCI tool that forked it.
	RuntimePid int

	CreatedAt time.Time
	State     LifecycleState

	// CurseOfDeath aborts an in-flight Starting container: preStart hooks
	// must consult this flag and fail, unwinding the start sequence.
	CurseOfDeath bool

	Restart RestartPolicy

	Log zerolog.Logger `json:"-"`
}

// RuntimeState mirrors specs.State plus the OCI runtime's own status string.
type RuntimeState struct {
	SpecState specs.State
	Status    string // "created" | "running" | "pausing" | "paused" | "stopped" | "unknown"
}

func (c *Container) String() string {
	return fmt.Sprintf("container(id=%s descriptor=%d state=%s pid=%d)",
		c.ContainerID, c.Descriptor, c.State, c.RuntimePid)
}
