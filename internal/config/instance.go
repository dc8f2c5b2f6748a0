package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// maxNameLength is the longest instance name the managed domain can
// carry as an identity.
const maxNameLength = 8

var validFormats = map[string]bool{
	"ext2": true,
	"ext3": true,
	"ext4": true,
	"xfs":  true,
	"swap": true,
}

// InstanceConfig describes one instance to spawn.
type InstanceConfig struct {
	Name       string `yaml:"name"`
	VCPUs      int    `yaml:"vcpus"`
	MemoryMiB  int    `yaml:"memory_mib"`
	RootDiskGB int    `yaml:"root_disk_gb"`

	// Image names the repository image deployed onto the root disk.
	Image string `yaml:"image"`

	EphemeralDisks []EphemeralDiskConfig    `yaml:"ephemeral_disks,omitempty"`
	Networks       []NetworkInterfaceConfig `yaml:"network_interfaces"`

	FQDN          string   `yaml:"fqdn,omitempty"`
	SSHKeys       []string `yaml:"ssh_keys,omitempty"`
	AdminPassword string   `yaml:"admin_password,omitempty"`

	// Files are injected into the guest on first boot, path to
	// content.
	Files map[string]string `yaml:"files,omitempty"`
}

// EphemeralDiskConfig is one requested scratch disk.
type EphemeralDiskConfig struct {
	SizeGB int    `yaml:"size_gb"`
	Format string `yaml:"format,omitempty"`
}

// NetworkInterfaceConfig is one requested network interface.
type NetworkInterfaceConfig struct {
	// IP with CIDR suffix, e.g. "10.20.30.40/24".
	IP      string `yaml:"ip"`
	Gateway string `yaml:"gateway"`

	// PortID is the fabric port this interface couples to.
	PortID string `yaml:"port_id,omitempty"`

	// VLANID tags the switch port; zero leaves the port untagged.
	VLANID int `yaml:"vlan_id,omitempty"`

	// Derived from IP after validation, not read from YAML.
	MACAddress string `yaml:"-"`
}

// UserID returns the identity the instance holds in the managed
// domain.
func (c *InstanceConfig) UserID() string {
	return strings.ToUpper(c.Name)
}

// Hostname returns the guest hostname, the first label of the FQDN
// when one is set.
func (c *InstanceConfig) Hostname() string {
	if c.FQDN != "" {
		return strings.SplitN(c.FQDN, ".", 2)[0]
	}
	return c.Name
}

// Normalize sanitizes user input to consistent formats. Called by
// LoadInstance before validation.
func (c *InstanceConfig) Normalize() {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	c.FQDN = strings.ToLower(strings.TrimSpace(c.FQDN))
	for i := range c.EphemeralDisks {
		c.EphemeralDisks[i].Format = strings.ToLower(strings.TrimSpace(c.EphemeralDisks[i].Format))
	}
}

// Validate checks the request for errors. Remote state, such as
// whether the image exists, is checked by the workflows.
func (c *InstanceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(c.Name) > maxNameLength {
		return fmt.Errorf("name must be at most %d characters to serve as a domain identity, got %q", maxNameLength, c.Name)
	}
	namePattern := `^[a-z0-9][a-z0-9-]*$`
	matched, err := regexp.MatchString(namePattern, c.Name)
	if err != nil {
		return fmt.Errorf("name validation error: %w", err)
	}
	if !matched {
		return fmt.Errorf("name must start with an alphanumeric character and contain only alphanumeric characters or hyphens, got %q", c.Name)
	}

	if c.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be > 0, got %d", c.VCPUs)
	}
	if c.MemoryMiB <= 0 {
		return fmt.Errorf("memory_mib must be > 0, got %d", c.MemoryMiB)
	}
	if c.RootDiskGB <= 0 {
		return fmt.Errorf("root_disk_gb must be > 0, got %d", c.RootDiskGB)
	}
	if c.Image == "" {
		return fmt.Errorf("image is required")
	}

	for i, disk := range c.EphemeralDisks {
		if disk.SizeGB <= 0 {
			return fmt.Errorf("ephemeral_disks[%d]: size_gb must be > 0, got %d", i, disk.SizeGB)
		}
		if disk.Format != "" && !validFormats[disk.Format] {
			return fmt.Errorf("ephemeral_disks[%d]: unsupported format %q", i, disk.Format)
		}
	}

	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network_interfaces entry is required")
	}
	ipsSeen := make(map[string]bool)
	for i, iface := range c.Networks {
		if err := iface.Validate(); err != nil {
			return fmt.Errorf("network_interfaces[%d]: %w", i, err)
		}
		if ipsSeen[iface.IP] {
			return fmt.Errorf("network_interfaces[%d]: duplicate IP %q", i, iface.IP)
		}
		ipsSeen[iface.IP] = true
	}

	for i, key := range c.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("ssh_keys[%d] is not a valid SSH public key: %w", i, err)
		}
	}

	return nil
}

// Validate checks one network interface entry.
func (n *NetworkInterfaceConfig) Validate() error {
	if n.IP == "" {
		return fmt.Errorf("ip is required")
	}
	if n.Gateway == "" {
		return fmt.Errorf("gateway is required")
	}

	ip, ipnet, err := net.ParseCIDR(n.IP)
	if err != nil || ip == nil || ipnet == nil {
		return fmt.Errorf("invalid ip/cidr format %q", n.IP)
	}
	if net.ParseIP(n.Gateway) == nil {
		return fmt.Errorf("invalid gateway IP address %q", n.Gateway)
	}
	if n.VLANID < 0 || n.VLANID > 4094 {
		return fmt.Errorf("vlan_id must be between 0 and 4094, got %d", n.VLANID)
	}
	return nil
}

// CalculateMACs derives MAC addresses for every interface from its IP.
// Must run after validation.
func (c *InstanceConfig) CalculateMACs() error {
	for i := range c.Networks {
		mac, err := calculateMACFromIP(c.Networks[i].IP)
		if err != nil {
			return fmt.Errorf("network_interfaces[%d]: %w", i, err)
		}
		c.Networks[i].MACAddress = mac
	}
	return nil
}

// calculateMACFromIP generates a MAC address from an IP address:
//
//	IP: 10.20.30.40 -> Octets: [10, 20, 30, 40] -> MAC: be:ef:0a:14:1e:28
//
// Deterministic MACs keep interfaces stable across redeploys.
func calculateMACFromIP(ipWithCIDR string) (string, error) {
	ipStr := ipWithCIDR
	if strings.Contains(ipWithCIDR, "/") {
		ip, _, err := net.ParseCIDR(ipWithCIDR)
		if err != nil {
			return "", fmt.Errorf("invalid IP/CIDR format: %w", err)
		}
		ipStr = ip.String()
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", ipStr)
	}
	ip = ip.To4()
	if ip == nil {
		return "", fmt.Errorf("only IPv4 addresses are supported: %s", ipStr)
	}

	return fmt.Sprintf("be:ef:%02x:%02x:%02x:%02x", ip[0], ip[1], ip[2], ip[3]), nil
}

// LoadInstance reads, normalizes, and validates an instance request
// file.
func LoadInstance(path string) (*InstanceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instance file: %w", err)
	}

	var config InstanceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instance request: %w", err)
	}

	if err := config.CalculateMACs(); err != nil {
		return nil, fmt.Errorf("failed to calculate MAC addresses: %w", err)
	}

	return &config, nil
}
