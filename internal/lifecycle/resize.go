package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/fabric"
	"github.com/jbweber/crucible/internal/instance"
	"github.com/jbweber/crucible/internal/workflow"
)

// syscloneMethod is the provisioning method a registration carries
// while its disk is being captured for a move. The previous method is
// restored as soon as the capture finishes.
const syscloneMethod = "sysclone"

// ResizeRequest describes the source phase of a cold resize.
type ResizeRequest struct {
	Name string

	// VCPUs and MemoryMiB describe the current definition. They are
	// recorded in the migration context so a failed finish can rebuild
	// the source in its old shape.
	VCPUs     int
	MemoryMiB int

	OldRootGB int
	NewRootGB int
	OldEphGB  int
	NewEphGB  int

	// TargetDomain is the managed domain the instance moves to.
	// Matching the local domain keeps the captured image in place;
	// anything else exports a bundle to BundlePath.
	TargetDomain string
	BundlePath   string

	Volumes []VolumeAttachment
}

// resizeImageName returns the repository image holding name's captured
// root disk during a resize.
func resizeImageName(name string) string {
	return resizeAlias(name) + "-root"
}

// ResizeStart runs the source phase of a cold resize: capture the root
// disk, preserve the registration under its resize alias, and power
// the source down. The returned context carries everything the target
// host needs to finish.
func (o *Orchestrator) ResizeStart(ctx context.Context, req ResizeRequest) (*MigrationContext, error) {
	if req.NewRootGB < req.OldRootGB {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"cannot shrink root disk from %dG to %dG", req.OldRootGB, req.NewRootGB)}
	}
	if req.NewEphGB < req.OldEphGB {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"cannot shrink ephemeral storage from %dG to %dG", req.OldEphGB, req.NewEphGB)}
	}

	name := req.Name
	imageName := resizeImageName(name)
	crossDomain := req.TargetDomain != "" && !strings.EqualFold(req.TargetDomain, o.cfg.Host.Domain)

	var ephDisks []instance.EphemeralDisk

	steps := []workflow.Step{
		{
			Name: "record ephemeral layout",
			Run: func(ctx context.Context) error {
				disks, err := o.ops.EphemeralDisks(ctx, name)
				if err != nil {
					return err
				}
				ephDisks = disks
				return nil
			},
		},
		{
			Name: "detach volumes",
			Run: func(ctx context.Context) error {
				for _, v := range req.Volumes {
					if err := o.volumes.Detach(ctx, name, v.Conn, v.Mountpoint, true); err != nil {
						return err
					}
				}
				return nil
			},
			Compensate: func() error {
				for _, v := range req.Volumes {
					if err := o.volumes.Attach(context.Background(), name, v.Conn, v.Mountpoint, true); err != nil {
						o.log.Warnf("Warning: %v", err)
					}
				}
				return nil
			},
		},
		{
			Name: "capture root disk",
			Run: func(ctx context.Context) error {
				if err := o.captureWithRelabel(ctx, name, imageName); err != nil {
					// A failed capture can leave a partial image
					// behind.
					if derr := o.images.Delete(context.Background(), imageName); derr != nil {
						o.log.Warnf("Warning: %v", derr)
					}
					return err
				}
				return nil
			},
			Compensate: func() error {
				return o.images.Delete(context.Background(), imageName)
			},
		},
		{
			Name: "export bundle",
			Run: func(ctx context.Context) error {
				if !crossDomain {
					return nil
				}
				return o.images.Export(ctx, imageName, req.BundlePath)
			},
		},
		{
			Name: "preserve registration",
			Run: func(ctx context.Context) error {
				return o.ops.CopyRegistration(ctx, resizeAlias(name), name)
			},
			Compensate: func() error {
				return o.ops.Unregister(context.Background(), resizeAlias(name))
			},
		},
		{
			Name: "power off source",
			Run: func(ctx context.Context) error {
				return o.ops.PowerOff(ctx, name)
			},
			Compensate: func() error {
				return o.ops.PowerOn(context.Background(), name)
			},
		},
	}

	if err := o.runner.Run(ctx, "resize", name, steps); err != nil {
		return nil, err
	}

	o.recordState(name, instance.PowerShutdown)

	mctx := &MigrationContext{
		DiskType:        o.cfg.Disk.Type,
		SourceDomain:    o.cfg.Host.Domain,
		ImageName:       imageName,
		Owner:           name,
		SourceVCPUs:     req.VCPUs,
		SourceMemoryMiB: req.MemoryMiB,
		SourceRootGB:    req.OldRootGB,
		EphSizeOldGB:    req.OldEphGB,
		EphSizeNewGB:    req.NewEphGB,
		EphDisks:        ephDisks,
	}
	if crossDomain {
		mctx.SourceBundle = req.BundlePath
	}
	return mctx, nil
}

// captureWithRelabel captures name's root disk while the registration
// temporarily carries the sysclone provisioning method. The previous
// method is restored whether or not the capture succeeds.
func (o *Orchestrator) captureWithRelabel(ctx context.Context, name, imageName string) error {
	oldMethod, err := o.ops.ProvisioningMethod(ctx, name)
	if err != nil {
		return err
	}
	if err := o.ops.SetProvisioningMethod(ctx, name, syscloneMethod); err != nil {
		return err
	}

	captureErr := o.images.Capture(ctx, name, imageName, o.cfg.Vdev.Root)

	if err := o.ops.SetProvisioningMethod(ctx, name, oldMethod); err != nil {
		if captureErr == nil {
			return err
		}
		o.log.Warnf("Warning: %v", err)
	}
	return captureErr
}

// ResizeFinish runs the target phase of a cold resize: rebuild the
// definition with the new shape, deploy the captured root disk, and
// bring the instance back up. req describes the new shape; mctx is
// what ResizeStart produced.
func (o *Orchestrator) ResizeFinish(ctx context.Context, req *config.InstanceConfig, mctx *MigrationContext, vols []VolumeAttachment, powerOn bool) error {
	if !strings.EqualFold(mctx.DiskType, o.cfg.Disk.Type) {
		return &ValidationError{Reason: fmt.Sprintf(
			"source disk type %s does not match local %s", mctx.DiskType, o.cfg.Disk.Type)}
	}

	name := mctx.Owner
	sameDomain := mctx.SameDomain(o.cfg.Host.Domain)

	inst, err := o.resizedInstance(req, mctx)
	if err != nil {
		return err
	}

	var steps []workflow.Step

	if !sameDomain {
		steps = append(steps,
			workflow.Step{
				Name: "import image bundle",
				Run: func(ctx context.Context) error {
					return o.images.Import(ctx, mctx.ImageName, mctx.SourceBundle)
				},
				Compensate: func() error {
					return o.images.Delete(context.Background(), mctx.ImageName)
				},
			},
			workflow.Step{
				Name: "create registration",
				Run: func(ctx context.Context) error {
					return o.ops.Register(ctx, name, inst.UserID)
				},
				Compensate: func() error {
					return o.ops.Unregister(context.Background(), name)
				},
			},
		)
	}

	steps = append(steps,
		workflow.Step{
			Name: "replace definition",
			Run: func(ctx context.Context) error {
				if sameDomain {
					// The source definition is still present on this
					// gateway; the alias registration preserves its
					// shape for revert.
					if err := o.ops.Delete(ctx, name); err != nil {
						return err
					}
				}
				return o.ops.CreateDefinition(ctx, inst)
			},
			Compensate: func() error {
				if sameDomain {
					return o.restoreSource(context.Background(), mctx)
				}
				return o.ops.Delete(context.Background(), name)
			},
		},
	)

	if !sameDomain {
		steps = append(steps, workflow.Step{
			Name: "bind network ports",
			Run: func(ctx context.Context) error {
				for i, nic := range inst.NICs {
					b := fabric.Binding{
						PortID: req.Networks[i].PortID,
						Vdev:   nic.Vdev,
						MAC:    nic.MAC,
						VLANID: req.Networks[i].VLANID,
					}
					if err := o.fabric.BindPort(ctx, name, inst.UserID, o.cfg.Network.Vswitch, b); err != nil {
						return err
					}
				}
				return nil
			},
			Compensate: func() error {
				return o.fabric.UnbindAll(context.Background(), name, inst.UserID)
			},
		})
	}

	steps = append(steps,
		workflow.Step{
			// The captured image carries the configured guest, so no
			// config drive travels with the deploy.
			Name: "deploy captured image",
			Run: func(ctx context.Context) error {
				return o.ops.Deploy(ctx, name, mctx.ImageName, instance.DeployOptions{})
			},
		},
		workflow.Step{
			Name: "wait for network binding",
			Run: func(ctx context.Context) error {
				return o.waitNICsBound(ctx, name, inst.NICs)
			},
		},
		workflow.Step{
			Name: "attach volumes",
			Run: func(ctx context.Context) error {
				for _, v := range vols {
					if err := o.volumes.Attach(ctx, name, v.Conn, v.Mountpoint, false); err != nil {
						return err
					}
				}
				return nil
			},
		},
		workflow.Step{
			Name: "power on",
			Run: func(ctx context.Context) error {
				if !powerOn {
					return nil
				}
				if err := o.ops.PowerOn(ctx, name); err != nil {
					return err
				}
				return o.waitReachable(ctx, name)
			},
		},
	)

	if err := o.runner.Run(ctx, "resize-finish", name, steps); err != nil {
		return err
	}

	if powerOn {
		o.recordState(name, instance.PowerRunning)
	} else {
		o.recordState(name, instance.PowerShutdown)
	}
	return nil
}

// restoreSource rebuilds a same-domain source instance after the
// finish phase fails past the point where its definition was replaced.
// The alias registration comes back under the original name and the
// instance is rebuilt in its pre-resize shape from the captured image.
func (o *Orchestrator) restoreSource(ctx context.Context, mctx *MigrationContext) error {
	name := mctx.Owner
	alias := resizeAlias(name)

	if err := o.ops.Delete(ctx, name); err != nil {
		return err
	}
	if err := o.ops.Unregister(ctx, name); err != nil {
		return err
	}
	if err := o.ops.CopyRegistration(ctx, name, alias); err != nil {
		return err
	}
	if err := o.ops.Unregister(ctx, alias); err != nil {
		return err
	}

	inst := &instance.Instance{
		Name:       name,
		UserID:     strings.ToUpper(name),
		VCPUs:      mctx.SourceVCPUs,
		MemoryMiB:  mctx.SourceMemoryMiB,
		RootDiskGB: mctx.SourceRootGB,
		Ephemeral:  append([]instance.EphemeralDisk{}, mctx.EphDisks...),
	}
	if err := o.ops.CreateDefinition(ctx, inst); err != nil {
		return err
	}
	if err := o.ops.Deploy(ctx, name, mctx.ImageName, instance.DeployOptions{}); err != nil {
		return err
	}
	if err := o.ops.PowerOn(ctx, name); err != nil {
		return err
	}
	o.recordState(name, instance.PowerRunning)
	return nil
}

// resizedInstance expands the new shape plus the preserved ephemeral
// layout into the instance model. Grown ephemeral capacity arrives as
// one additional disk; existing disks keep their addresses and sizes.
func (o *Orchestrator) resizedInstance(req *config.InstanceConfig, mctx *MigrationContext) (*instance.Instance, error) {
	inst := &instance.Instance{
		Name:       mctx.Owner,
		UserID:     req.UserID(),
		VCPUs:      req.VCPUs,
		MemoryMiB:  req.MemoryMiB,
		RootDiskGB: req.RootDiskGB,
		Ephemeral:  append([]instance.EphemeralDisk{}, mctx.EphDisks...),
	}

	if grown := mctx.EphSizeNewGB - mctx.EphSizeOldGB; grown > 0 {
		vdev, err := instance.NextAddress(o.cfg.Vdev.Ephemeral, len(inst.Ephemeral))
		if err != nil {
			return nil, err
		}
		inst.Ephemeral = append(inst.Ephemeral, instance.EphemeralDisk{
			Vdev: vdev,
			Size: fmt.Sprintf("%dg", grown),
		})
	}

	nicAlloc, err := instance.NewAddressAllocator(o.cfg.Vdev.NIC, instance.NICVdevStride)
	if err != nil {
		return nil, err
	}
	for _, n := range req.Networks {
		inst.NICs = append(inst.NICs, instance.NIC{
			Vdev:   nicAlloc.Next(),
			MAC:    n.MACAddress,
			PortID: n.PortID,
		})
	}
	return inst, nil
}

// ResizeConfirm commits a finished resize: the alias registration and
// the captured image are dropped, and a source that was left in
// another domain is destroyed there.
func (o *Orchestrator) ResizeConfirm(ctx context.Context, mctx *MigrationContext) error {
	name := mctx.Owner

	if mctx.SameDomain(o.cfg.Host.Domain) {
		if err := o.ops.Unregister(ctx, resizeAlias(name)); err != nil {
			return err
		}
	} else {
		// Confirm on the source host of a cross-domain move removes
		// everything the instance left behind.
		if err := o.ops.Delete(ctx, name); err != nil {
			return err
		}
		if err := o.fabric.UnbindAll(ctx, name, strings.ToUpper(name)); err != nil {
			o.log.Warnf("Warning: %v", err)
		}
		if err := o.ops.Unregister(ctx, name); err != nil {
			return err
		}
		if err := o.ops.Unregister(ctx, resizeAlias(name)); err != nil {
			return err
		}
		o.forgetState(name)
	}

	if err := o.images.Delete(ctx, mctx.ImageName); err != nil {
		o.log.Warnf("Warning: %v", err)
	}
	o.log.Infof("resize of %s confirmed", name)
	return nil
}

// ResizeRevert abandons a resize on the source host: the new
// definition is removed, the preserved registration is restored under
// the original name, and the instance is rebuilt in its old shape from
// the captured image.
func (o *Orchestrator) ResizeRevert(ctx context.Context, req *config.InstanceConfig, mctx *MigrationContext, vols []VolumeAttachment) error {
	name := mctx.Owner
	alias := resizeAlias(name)

	inst := &instance.Instance{
		Name:       name,
		UserID:     req.UserID(),
		VCPUs:      req.VCPUs,
		MemoryMiB:  req.MemoryMiB,
		RootDiskGB: req.RootDiskGB,
		Ephemeral:  append([]instance.EphemeralDisk{}, mctx.EphDisks...),
	}

	steps := []workflow.Step{
		{
			Name: "remove resized definition",
			Run: func(ctx context.Context) error {
				return o.ops.Delete(ctx, name)
			},
		},
		{
			Name: "restore registration",
			Run: func(ctx context.Context) error {
				if err := o.ops.Unregister(ctx, name); err != nil {
					return err
				}
				if err := o.ops.CopyRegistration(ctx, name, alias); err != nil {
					return err
				}
				return o.ops.Unregister(ctx, alias)
			},
		},
		{
			Name: "rebuild definition",
			Run: func(ctx context.Context) error {
				return o.ops.CreateDefinition(ctx, inst)
			},
		},
		{
			Name: "deploy captured image",
			Run: func(ctx context.Context) error {
				return o.ops.Deploy(ctx, name, mctx.ImageName, instance.DeployOptions{})
			},
		},
		{
			Name: "attach volumes",
			Run: func(ctx context.Context) error {
				for _, v := range vols {
					if err := o.volumes.Attach(ctx, name, v.Conn, v.Mountpoint, false); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name: "power on",
			Run: func(ctx context.Context) error {
				return o.ops.PowerOn(ctx, name)
			},
		},
	}

	if err := o.runner.Run(ctx, "resize-revert", name, steps); err != nil {
		return err
	}

	if err := o.images.Delete(ctx, mctx.ImageName); err != nil {
		o.log.Warnf("Warning: %v", err)
	}
	o.recordState(name, instance.PowerRunning)
	o.log.Infof("resize of %s reverted", name)
	return nil
}
