package instance

// EphemeralDisk is one scratch disk attached to an instance beyond its
// root disk.
type EphemeralDisk struct {
	Vdev string

	// Size is in the gateway's native units: cylinders for ECKD pools,
	// blocks for FBA pools, or a "<n>g" request before the disk exists.
	Size string

	// Format is the filesystem to lay down, or empty for a raw disk.
	Format string
}

// NIC is one network interface bound to an instance.
type NIC struct {
	Vdev string
	MAC  string

	// PortID identifies the fabric port this interface couples to.
	PortID string
}

// Instance describes one virtual machine for the duration of a
// lifecycle operation. It is built from request parameters and remote
// queries; nothing persists it.
type Instance struct {
	Name   string
	UserID string

	VCPUs      int
	MemoryMiB  int
	RootDiskGB int

	Ephemeral []EphemeralDisk
	NICs      []NIC
}
