package lifecycle

import (
	"context"
	"strings"

	"github.com/jbweber/crucible/internal/instance"
)

// Destroy removes an instance and everything registered for it.
// Destroy is idempotent: an instance that is partially torn down, or
// already gone, still ends in the same terminal state. Volume and
// fabric teardown is best effort; the definition and registration are
// always removed.
func (o *Orchestrator) Destroy(ctx context.Context, name string, vols []VolumeAttachment) error {
	userID := strings.ToUpper(name)

	state, err := o.ops.PowerState(ctx, name)
	if err != nil {
		return err
	}
	if state == instance.PowerAbsent {
		o.log.Infof("instance %s has no definition, removing leftovers", name)
	}

	if state != instance.PowerAbsent && state != instance.PowerShutdown {
		if err := o.ops.PowerOff(ctx, name); err != nil {
			return err
		}
	}

	for _, v := range vols {
		if err := o.volumes.Detach(ctx, name, v.Conn, v.Mountpoint, false); err != nil {
			o.log.Warnf("Warning: %v", err)
		}
	}

	if err := o.fabric.UnbindAll(ctx, name, userID); err != nil {
		o.log.Warnf("Warning: %v", err)
	}

	if state != instance.PowerAbsent {
		if err := o.ops.Delete(ctx, name); err != nil {
			return err
		}
	}

	if err := o.ops.Unregister(ctx, name); err != nil {
		return err
	}

	o.forgetState(name)
	o.log.Infof("instance %s destroyed", name)
	return nil
}
