package lifecycle

import (
	"context"

	"github.com/jbweber/crucible/internal/instance"
)

// InstanceInfo is the status summary power queries return.
type InstanceInfo struct {
	Name  string
	State instance.PowerState
}

// PowerOn starts a stopped instance.
func (o *Orchestrator) PowerOn(ctx context.Context, name string) error {
	if err := o.ops.PowerOn(ctx, name); err != nil {
		return err
	}
	o.recordState(name, instance.PowerRunning)
	return nil
}

// PowerOff stops a running instance.
func (o *Orchestrator) PowerOff(ctx context.Context, name string) error {
	if err := o.ops.PowerOff(ctx, name); err != nil {
		return err
	}
	o.recordState(name, instance.PowerShutdown)
	return nil
}

// Pause suspends a running instance in place.
func (o *Orchestrator) Pause(ctx context.Context, name string) error {
	if err := o.ops.Pause(ctx, name); err != nil {
		return err
	}
	o.recordState(name, instance.PowerPaused)
	return nil
}

// Unpause resumes a paused instance.
func (o *Orchestrator) Unpause(ctx context.Context, name string) error {
	if err := o.ops.Unpause(ctx, name); err != nil {
		return err
	}
	o.recordState(name, instance.PowerRunning)
	return nil
}

// Reboot restarts the guest operating system.
func (o *Orchestrator) Reboot(ctx context.Context, name string) error {
	if err := o.ops.Reboot(ctx, name); err != nil {
		return err
	}
	o.recordState(name, instance.PowerRunning)
	return nil
}

// Reset force-cycles an instance.
func (o *Orchestrator) Reset(ctx context.Context, name string) error {
	if err := o.ops.Reset(ctx, name); err != nil {
		return err
	}
	o.recordState(name, instance.PowerRunning)
	return nil
}

// Info reports an instance's current state. The gateway reports a
// paused guest as running, so when the gateway says running and this
// host last drove the instance to paused, paused wins.
func (o *Orchestrator) Info(ctx context.Context, name string) (*InstanceInfo, error) {
	state, err := o.ops.PowerState(ctx, name)
	if err != nil {
		return nil, err
	}
	if state == instance.PowerRunning && o.rememberedState(name) == instance.PowerPaused {
		state = instance.PowerPaused
	}
	return &InstanceInfo{Name: name, State: state}, nil
}

// ConsoleLog returns recent guest console output, bounded to the
// configured size.
func (o *Orchestrator) ConsoleLog(ctx context.Context, name string) (string, error) {
	out, err := o.ops.ConsoleLog(ctx, name)
	if err != nil {
		return "", err
	}
	if limit := o.cfg.Image.ConsoleLogKB * 1024; limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
