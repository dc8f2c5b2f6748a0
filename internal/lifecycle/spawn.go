package lifecycle

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/configdrive"
	"github.com/jbweber/crucible/internal/fabric"
	"github.com/jbweber/crucible/internal/instance"
	"github.com/jbweber/crucible/internal/volume"
	"github.com/jbweber/crucible/internal/workflow"
)

// VolumeAttachment pairs a volume with its requested guest device
// node.
type VolumeAttachment struct {
	Conn       volume.ConnectionInfo
	Mountpoint string
}

// Spawn builds a new instance from req and boots it. A failure at any
// step unwinds everything the earlier steps created.
func (o *Orchestrator) Spawn(ctx context.Context, req *config.InstanceConfig, vols []VolumeAttachment) error {
	exists, err := o.images.Exists(ctx, req.Image)
	if err != nil {
		return err
	}
	if !exists {
		return &ValidationError{Reason: fmt.Sprintf("image %s is not in the repository", req.Image)}
	}

	inst, err := o.buildInstance(req)
	if err != nil {
		return err
	}

	steps := []workflow.Step{
		{
			Name: "create registration",
			Run: func(ctx context.Context) error {
				return o.ops.Register(ctx, inst.Name, inst.UserID)
			},
			Compensate: func() error {
				return o.ops.Unregister(context.Background(), inst.Name)
			},
		},
		{
			Name: "create definition",
			Run: func(ctx context.Context) error {
				return o.ops.CreateDefinition(ctx, inst)
			},
			Compensate: func() error {
				return o.ops.Delete(context.Background(), inst.Name)
			},
		},
		{
			Name: "bind network ports",
			Run: func(ctx context.Context) error {
				for i, nic := range inst.NICs {
					b := fabric.Binding{
						PortID: req.Networks[i].PortID,
						Vdev:   nic.Vdev,
						MAC:    nic.MAC,
						VLANID: req.Networks[i].VLANID,
					}
					if err := o.fabric.BindPort(ctx, inst.Name, inst.UserID, o.cfg.Network.Vswitch, b); err != nil {
						return err
					}
				}
				return nil
			},
			Compensate: func() error {
				return o.fabric.UnbindAll(context.Background(), inst.Name, inst.UserID)
			},
		},
		{
			Name: "publish guest address",
			Run: func(ctx context.Context) error {
				ip, _, err := net.ParseCIDR(req.Networks[0].IP)
				if err != nil {
					return fmt.Errorf("invalid address %q: %w", req.Networks[0].IP, err)
				}
				return o.fabric.RecordAddress(ctx, inst.Name, ip.String(), req.Hostname())
			},
		},
		{
			Name: "record image metadata",
			Run: func(ctx context.Context) error {
				return o.ops.UpdateImageMetadata(ctx, inst.Name, imageMetadata(req.Image))
			},
		},
		{
			Name: "deploy image",
			Run: func(ctx context.Context) error {
				return o.deployWithConfigDrive(ctx, inst, req)
			},
		},
		{
			Name: "wait for network binding",
			Run: func(ctx context.Context) error {
				return o.waitNICsBound(ctx, inst.Name, inst.NICs)
			},
		},
		{
			Name: "attach volumes",
			Run: func(ctx context.Context) error {
				for _, v := range vols {
					if err := o.volumes.Attach(ctx, inst.Name, v.Conn, v.Mountpoint, false); err != nil {
						return err
					}
				}
				return nil
			},
			Compensate: func() error {
				for _, v := range vols {
					if err := o.volumes.Detach(context.Background(), inst.Name, v.Conn, v.Mountpoint, false); err != nil {
						o.log.Warnf("Warning: %v", err)
					}
				}
				return nil
			},
		},
		{
			Name: "power on",
			Run: func(ctx context.Context) error {
				return o.ops.PowerOn(ctx, inst.Name)
			},
			Compensate: func() error {
				return o.ops.PowerOff(context.Background(), inst.Name)
			},
		},
		{
			Name: "wait for guest",
			Run: func(ctx context.Context) error {
				return o.waitReachable(ctx, inst.Name)
			},
		},
	}

	if err := o.runner.Run(ctx, "spawn", inst.Name, steps); err != nil {
		return err
	}

	if err := o.images.TouchLastUsed(ctx, req.Image); err != nil {
		o.log.Warnf("Warning: %v", err)
	}
	o.recordState(inst.Name, instance.PowerRunning)
	o.log.Infof("instance %s is up", inst.Name)
	return nil
}

// buildInstance expands the request into the instance model, assigning
// device addresses to ephemeral disks and network interfaces.
func (o *Orchestrator) buildInstance(req *config.InstanceConfig) (*instance.Instance, error) {
	inst := &instance.Instance{
		Name:       req.Name,
		UserID:     req.UserID(),
		VCPUs:      req.VCPUs,
		MemoryMiB:  req.MemoryMiB,
		RootDiskGB: req.RootDiskGB,
	}

	ephAlloc, err := instance.NewAddressAllocator(o.cfg.Vdev.Ephemeral, 1)
	if err != nil {
		return nil, err
	}
	for _, d := range req.EphemeralDisks {
		inst.Ephemeral = append(inst.Ephemeral, instance.EphemeralDisk{
			Vdev:   ephAlloc.Next(),
			Size:   fmt.Sprintf("%dg", d.SizeGB),
			Format: d.Format,
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

// imageMetadata derives the registration metadata from an image name
// of the form "<os>-...".
func imageMetadata(image string) instance.ImageMetadata {
	osVersion := image
	if i := strings.Index(image, "-"); i > 0 {
		osVersion = image[:i]
	}
	return instance.ImageMetadata{
		OSVersion:    osVersion,
		Architecture: "s390x",
	}
}

// deployWithConfigDrive builds the configuration drive, deploys the
// image with it as transport files, and removes the local drive file.
func (o *Orchestrator) deployWithConfigDrive(ctx context.Context, inst *instance.Instance, req *config.InstanceConfig) error {
	password := req.AdminPassword
	if password == "" {
		password = o.cfg.Image.DefaultPassword
	}

	drive := &configdrive.Drive{
		InstanceName:    inst.Name,
		Hostname:        req.Hostname(),
		AdminPassword:   password,
		SSHKeys:         req.SSHKeys,
		NetworkCommands: o.networkCommands(req, inst.NICs),
	}
	for path, content := range req.Files {
		drive.Files = append(drive.Files, configdrive.File{Path: path, Content: content})
	}

	iso, err := drive.Build()
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "crucible-cfgdrive-")
	if err != nil {
		return fmt.Errorf("failed to create config drive directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			o.log.Warnf("Warning: failed to remove config drive directory: %v", err)
		}
	}()

	path := filepath.Join(dir, inst.Name+".iso")
	if err := os.WriteFile(path, iso, 0o600); err != nil {
		return fmt.Errorf("failed to write config drive: %w", err)
	}

	return o.ops.Deploy(ctx, inst.Name, req.Image, instance.DeployOptions{TransportFiles: path})
}

// networkCommands renders the guest commands that write channel device
// configuration for every interface.
func (o *Orchestrator) networkCommands(req *config.InstanceConfig, nics []instance.NIC) string {
	var b strings.Builder
	for i, nic := range nics {
		netCfg := req.Networks[i]
		ip, ipnet, err := net.ParseCIDR(netCfg.IP)
		if err != nil {
			continue
		}
		device := "enc" + nic.Vdev

		sub1, _ := instance.NextAddress(nic.Vdev, 1)
		sub2, _ := instance.NextAddress(nic.Vdev, 2)

		fmt.Fprintf(&b, "cat << EOF > /etc/sysconfig/network-scripts/ifcfg-%s\n", device)
		fmt.Fprintf(&b, "DEVICE=%s\n", device)
		fmt.Fprintf(&b, "BOOTPROTO=static\n")
		fmt.Fprintf(&b, "IPADDR=%s\n", ip.String())
		fmt.Fprintf(&b, "NETMASK=%s\n", net.IP(ipnet.Mask).String())
		if i == 0 {
			fmt.Fprintf(&b, "GATEWAY=%s\n", netCfg.Gateway)
		}
		fmt.Fprintf(&b, "ONBOOT=yes\n")
		fmt.Fprintf(&b, "NETTYPE=qeth\n")
		fmt.Fprintf(&b, "SUBCHANNELS=0.0.%s,0.0.%s,0.0.%s\n", nic.Vdev, sub1, sub2)
		fmt.Fprintf(&b, "EOF\n")
	}
	for _, dns := range o.cfg.Network.DNSServers {
		fmt.Fprintf(&b, "echo 'nameserver %s' >> /etc/resolv.conf\n", dns)
	}
	return b.String()
}
