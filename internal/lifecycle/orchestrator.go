package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/instance"
	"github.com/jbweber/crucible/internal/smapi"
	"github.com/jbweber/crucible/internal/workflow"
)

// HostCapabilities is the hypervisor host summary served from cache.
type HostCapabilities struct {
	Architecture string
	CPUs         int
	MemoryMiB    int
	Hypervisor   string
}

// Orchestrator runs the lifecycle workflows. It is safe for concurrent
// use; each workflow invocation builds its own step list and
// compensation stack.
type Orchestrator struct {
	cfg     *config.Config
	ops     instanceOps
	fabric  fabricController
	images  imageRepository
	volumes volumeManager
	runner  *workflow.Runner
	log     *zap.SugaredLogger

	mu sync.Mutex
	// hostCaps caches the host inventory; refreshed on demand.
	hostCaps *HostCapabilities
	// lastState remembers the power state this host last drove an
	// instance to. The gateway reports a paused guest as running, so
	// Info prefers the driven state for those.
	lastState map[string]instance.PowerState
}

// New returns an Orchestrator wired to its collaborators.
func New(cfg *config.Config, ops instanceOps, fab fabricController, images imageRepository, volumes volumeManager, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		cfg:       cfg,
		ops:       ops,
		fabric:    fab,
		images:    images,
		volumes:   volumes,
		runner:    workflow.NewRunner(log),
		log:       log,
		lastState: make(map[string]instance.PowerState),
	}
}

// reachablePoller builds the poller spawn and resize use to wait for a
// booted guest.
func (o *Orchestrator) reachablePoller() workflow.Poller {
	return workflow.Poller{
		Interval:  time.Duration(o.cfg.Timeouts.PollIntervalSeconds) * time.Second,
		Deadline:  time.Duration(o.cfg.Timeouts.ReachableSeconds) * time.Second,
		Transient: smapi.IsTransient,
	}
}

// waitReachable polls until name answers on its management channel.
func (o *Orchestrator) waitReachable(ctx context.Context, name string) error {
	p := o.reachablePoller()
	ready, err := p.Wait(func() (bool, error) {
		return o.ops.Reachable(ctx, name)
	})
	if err != nil {
		return fmt.Errorf("failed waiting for %s to become reachable: %w", name, err)
	}
	if !ready {
		return fmt.Errorf("instance %s did not become reachable within %ds",
			name, o.cfg.Timeouts.ReachableSeconds)
	}
	return nil
}

// waitNICsBound polls until every network device reports coupled and
// granted at the fabric layer. A device that never binds within the
// reachability timeout is fatal.
func (o *Orchestrator) waitNICsBound(ctx context.Context, name string, nics []instance.NIC) error {
	p := o.reachablePoller()
	for _, nic := range nics {
		vdev := nic.Vdev
		bound, err := p.Wait(func() (bool, error) {
			return o.fabric.NICBound(ctx, name, vdev, o.cfg.Network.Vswitch)
		})
		if err != nil {
			return fmt.Errorf("failed waiting for device %s of %s to bind: %w", vdev, name, err)
		}
		if !bound {
			return fmt.Errorf("device %s of %s did not bind within %ds",
				vdev, name, o.cfg.Timeouts.ReachableSeconds)
		}
	}
	return nil
}

// recordState remembers the state this host drove name to.
func (o *Orchestrator) recordState(name string, state instance.PowerState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastState[name] = state
}

// forgetState drops the remembered state, used when an instance is
// destroyed or leaves this host.
func (o *Orchestrator) forgetState(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.lastState, name)
}

// rememberedState returns the last driven state, PowerNoState when
// unknown.
func (o *Orchestrator) rememberedState(name string) instance.PowerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.lastState[name]; ok {
		return s
	}
	return instance.PowerNoState
}

// ReGrantAll replaces the configured switch's authorized-user set,
// used after a fabric restart to restore every instance's access.
func (o *Orchestrator) ReGrantAll(ctx context.Context, userIDs []string) error {
	return o.fabric.ReGrantAll(ctx, o.cfg.Network.Vswitch, userIDs)
}

// HostCapabilities returns the host summary, reading the inventory on
// first use and caching it. refresh forces a re-read.
func (o *Orchestrator) HostCapabilities(ctx context.Context, refresh bool) (*HostCapabilities, error) {
	o.mu.Lock()
	cached := o.hostCaps
	o.mu.Unlock()
	if cached != nil && !refresh {
		return cached, nil
	}

	lines, err := o.ops.HostInventory(ctx, o.cfg.Host.HCP)
	if err != nil {
		return nil, err
	}
	caps := parseHostInventory(lines)

	o.mu.Lock()
	o.hostCaps = caps
	o.mu.Unlock()
	return caps, nil
}

// parseHostInventory extracts the capability fields from an inventory
// report of "key: value" lines.
func parseHostInventory(lines []string) *HostCapabilities {
	caps := &HostCapabilities{}
	for _, line := range lines {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "architecture":
			caps.Architecture = value
		case "cpu count", "lpar cpu total":
			fmt.Sscanf(value, "%d", &caps.CPUs)
		case "memory", "lpar memory total":
			var n int
			if _, err := fmt.Sscanf(value, "%dM", &n); err == nil {
				caps.MemoryMiB = n
			} else if _, err := fmt.Sscanf(value, "%dG", &n); err == nil {
				caps.MemoryMiB = n * 1024
			}
		case "hypervisor os":
			caps.Hypervisor = value
		}
	}
	return caps
}
