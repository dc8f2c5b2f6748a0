package lifecycle

import (
	"context"

	"github.com/jbweber/crucible/internal/fabric"
	"github.com/jbweber/crucible/internal/instance"
	"github.com/jbweber/crucible/internal/volume"
)

// instanceOps defines the remote instance operations the workflows
// need.
//
// In production, this is satisfied by *instance.Operations.
// In tests, this is satisfied by mock implementations.
type instanceOps interface {
	// Register creates the registration record for name
	Register(ctx context.Context, name, userID string) error

	// Unregister removes the registration record, tolerating absence
	Unregister(ctx context.Context, name string) error

	// CopyRegistration creates dst's registration from src's attributes
	CopyRegistration(ctx context.Context, dst, src string) error

	// CreateDefinition creates the definition, root disk, boot device,
	// and ephemeral disks for inst
	CreateDefinition(ctx context.Context, inst *instance.Instance) error

	// AddDisk attaches a new minidisk
	AddDisk(ctx context.Context, name, vdev, size, format string) error

	// RemoveDisk detaches a minidisk
	RemoveDisk(ctx context.Context, name, vdev string) error

	// Deploy writes an image onto name's root disk
	Deploy(ctx context.Context, name, image string, opts instance.DeployOptions) error

	// Delete removes the definition, waiting out locks and tolerating
	// absence
	Delete(ctx context.Context, name string) error

	// Power actions; PowerOn and PowerOff tolerate an instance already
	// in the requested state
	PowerOn(ctx context.Context, name string) error
	PowerOff(ctx context.Context, name string) error
	Pause(ctx context.Context, name string) error
	Unpause(ctx context.Context, name string) error
	Reboot(ctx context.Context, name string) error
	Reset(ctx context.Context, name string) error

	// PowerState queries the current power state, PowerAbsent when no
	// definition exists
	PowerState(ctx context.Context, name string) (instance.PowerState, error)

	// Reachable reports whether the guest answers on its management
	// channel
	Reachable(ctx context.Context, name string) (bool, error)

	// ProvisioningMethod reads and writes the provisioning method
	// recorded against a registration
	ProvisioningMethod(ctx context.Context, name string) (string, error)
	SetProvisioningMethod(ctx context.Context, name, method string) error

	// UpdateIdentity rebinds a registration to a new identity and
	// control point
	UpdateIdentity(ctx context.Context, name, userID, hcp string) error

	// UpdateImageMetadata records the deployed image's identity
	UpdateImageMetadata(ctx context.Context, name string, meta instance.ImageMetadata) error

	// EphemeralDisks parses the definition for ephemeral minidisks
	EphemeralDisks(ctx context.Context, name string) ([]instance.EphemeralDisk, error)

	// ConsoleLog returns recent guest console output
	ConsoleLog(ctx context.Context, name string) (string, error)

	// RelocateTest asks whether name can move to destination
	RelocateTest(ctx context.Context, name, destination string) error

	// Relocate moves name and returns the facility's final status
	// record
	Relocate(ctx context.Context, name, destination string, opts instance.RelocateOptions) (string, error)

	// HostInventory returns a hypervisor host's raw inventory report
	HostInventory(ctx context.Context, host string) ([]string, error)
}

// fabricController defines the network fabric operations the workflows
// need.
//
// In production, this is satisfied by *fabric.Manager.
type fabricController interface {
	// BindPort grants access, couples the device, and records the
	// binding
	BindPort(ctx context.Context, name, userID, vswitch string, b fabric.Binding) error

	// NICBound reports whether the device at vdev is coupled to the
	// switch and the coupling has been granted
	NICBound(ctx context.Context, name, vdev, vswitch string) (bool, error)

	// UnbindAll tears down every binding of name, best effort
	UnbindAll(ctx context.Context, name, userID string) error

	// RecordAddress publishes name's management address
	RecordAddress(ctx context.Context, name, ip, hostname string) error

	// ReGrantAll replaces a switch's authorized-user set in batches
	ReGrantAll(ctx context.Context, vswitch string, userIDs []string) error
}

// imageRepository defines the image repository operations the
// workflows need.
//
// In production, this is satisfied by *imagerepo.Repository.
type imageRepository interface {
	// Exists reports whether an image is present
	Exists(ctx context.Context, name string) (bool, error)

	// Import pulls an image bundle into the repository
	Import(ctx context.Context, name, source string) error

	// Export writes an image out as a bundle
	Export(ctx context.Context, name, destination string) error

	// Capture snapshots an instance disk into a new image
	Capture(ctx context.Context, instanceName, imageName, vdev string) error

	// Delete removes an image, tolerating absence
	Delete(ctx context.Context, name string) error

	// TouchLastUsed refreshes an image's last-used record
	TouchLastUsed(ctx context.Context, name string) error

	// EnsureSpace reclaims repository space until neededGB is free
	EnsureSpace(ctx context.Context, neededGB float64) error
}

// volumeManager defines the external volume operations the workflows
// need.
//
// In production, this is satisfied by *volume.Manager.
type volumeManager interface {
	// Attach connects a volume to name
	Attach(ctx context.Context, name string, conn volume.ConnectionInfo, mountpoint string, active bool) error

	// Detach disconnects a volume from name, tolerating absence
	Detach(ctx context.Context, name string, conn volume.ConnectionInfo, mountpoint string, active bool) error
}
