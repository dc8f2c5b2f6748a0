package lifecycle

import (
	"context"
	"fmt"

	"github.com/jbweber/crucible/internal/instance"
	"github.com/jbweber/crucible/internal/workflow"
)

// Snapshot captures an instance's root disk into the repository and
// exports it as a bundle at destination. The instance's power state is
// restored afterwards; the intermediate repository image is removed
// once the bundle exists.
func (o *Orchestrator) Snapshot(ctx context.Context, name, imageName, destination string) error {
	state, err := o.ops.PowerState(ctx, name)
	if err != nil {
		return err
	}
	if state == instance.PowerAbsent {
		return &ValidationError{Reason: fmt.Sprintf("instance %s does not exist", name)}
	}

	if err := o.images.EnsureSpace(ctx, o.cfg.Image.FreeSpaceGB); err != nil {
		return err
	}

	steps := []workflow.Step{
		{
			// Capture reads through the definition, so the guest must
			// be logged on.
			Name: "power on for capture",
			Run: func(ctx context.Context) error {
				if state == instance.PowerRunning || state == instance.PowerPaused {
					return nil
				}
				return o.ops.PowerOn(ctx, name)
			},
			Compensate: func() error {
				if state == instance.PowerRunning || state == instance.PowerPaused {
					return nil
				}
				return o.ops.PowerOff(context.Background(), name)
			},
		},
		{
			Name: "capture root disk",
			Run: func(ctx context.Context) error {
				return o.images.Capture(ctx, name, imageName, o.cfg.Vdev.Root)
			},
			Compensate: func() error {
				return o.images.Delete(context.Background(), imageName)
			},
		},
		{
			Name: "export bundle",
			Run: func(ctx context.Context) error {
				return o.images.Export(ctx, imageName, destination)
			},
		},
	}

	if err := o.runner.Run(ctx, "snapshot", name, steps); err != nil {
		return err
	}

	// The bundle is the deliverable; the repository copy only wastes
	// capture space.
	if err := o.images.Delete(ctx, imageName); err != nil {
		o.log.Warnf("Warning: %v", err)
	}
	if state != instance.PowerRunning && state != instance.PowerPaused {
		if err := o.ops.PowerOff(ctx, name); err != nil {
			o.log.Warnf("Warning: %v", err)
		}
	}

	o.log.Infof("snapshot of %s exported to %s", name, destination)
	return nil
}
