// Package config defines the host configuration and the per-instance
// request format, with loading, normalization, and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the host-level configuration: which gateway to talk to,
// which managed domain this host drives, and the defaults every
// instance on it inherits.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Host       HostConfig       `yaml:"host"`
	Disk       DiskConfig       `yaml:"disk"`
	Vdev       VdevConfig       `yaml:"vdev"`
	User       UserConfig       `yaml:"user"`
	Network    NetworkConfig    `yaml:"network"`
	Image      ImageConfig      `yaml:"image"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Relocation RelocationConfig `yaml:"relocation"`
}

// GatewayConfig locates the management gateway.
type GatewayConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// HostConfig identifies this host inside the managed domain.
type HostConfig struct {
	// Domain is the managed domain this host's instances live in.
	// Cross-domain migration compares source and target domains.
	Domain string `yaml:"domain"`

	// HCP is the hardware control point registrations bind to.
	HCP string `yaml:"hcp"`

	// Group is the registration group new instances join.
	Group string `yaml:"group,omitempty"`
}

// DiskConfig selects where instance disks come from.
type DiskConfig struct {
	Pool string `yaml:"pool"`
	// Type is the disk geometry, ECKD or FBA.
	Type string `yaml:"type,omitempty"`
}

// VdevConfig fixes the guest device addresses instances are built
// with.
type VdevConfig struct {
	Root      string `yaml:"root,omitempty"`
	Ephemeral string `yaml:"ephemeral,omitempty"`
	NIC       string `yaml:"nic,omitempty"`
	Volume    string `yaml:"volume,omitempty"`
}

// UserConfig is the identity template for new definitions.
type UserConfig struct {
	Profile   string `yaml:"profile"`
	Password  string `yaml:"password"`
	Privilege string `yaml:"privilege,omitempty"`
}

// NetworkConfig names the fabric resources instances couple to.
type NetworkConfig struct {
	Vswitch    string   `yaml:"vswitch"`
	DNSServers []string `yaml:"dns_servers,omitempty"`
}

// ImageConfig tunes the image repository interactions.
type ImageConfig struct {
	// DefaultPassword is injected into guests whose request carries no
	// admin password.
	DefaultPassword string `yaml:"default_password,omitempty"`

	// FreeSpaceGB is how much repository space a capture requires.
	FreeSpaceGB float64 `yaml:"free_space_gb,omitempty"`

	// ConsoleLogKB bounds how much console output a log request
	// returns.
	ConsoleLogKB int `yaml:"console_log_kb,omitempty"`
}

// TimeoutConfig bounds the waits inside lifecycle workflows.
type TimeoutConfig struct {
	// ReachableSeconds is how long spawn waits for a booted guest to
	// answer on its management channel. Zero waits forever.
	ReachableSeconds int `yaml:"reachable_seconds,omitempty"`

	// PollIntervalSeconds is the pause between readiness probes.
	PollIntervalSeconds int `yaml:"poll_interval_seconds,omitempty"`
}

// RelocationConfig tunes live migration.
type RelocationConfig struct {
	// MaxTotal bounds total relocation time in seconds; zero means no
	// limit is passed to the gateway.
	MaxTotal int `yaml:"max_total,omitempty"`

	// MaxQuiesce bounds how long the guest may be quiesced, in
	// seconds.
	MaxQuiesce int `yaml:"max_quiesce,omitempty"`

	// Force lists the precheck classes to override, e.g.
	// "ARCHITECTURE DOMAIN".
	Force string `yaml:"force,omitempty"`
}

// Normalize fills defaults. Called by Load before validation.
func (c *Config) Normalize() {
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 30
	}
	if c.Disk.Type == "" {
		c.Disk.Type = "ECKD"
	}
	c.Disk.Type = strings.ToUpper(strings.TrimSpace(c.Disk.Type))

	if c.Vdev.Root == "" {
		c.Vdev.Root = "0100"
	}
	if c.Vdev.Ephemeral == "" {
		c.Vdev.Ephemeral = "0101"
	}
	if c.Vdev.NIC == "" {
		c.Vdev.NIC = "1000"
	}
	if c.Vdev.Volume == "" {
		c.Vdev.Volume = "0200"
	}

	if c.Host.Group == "" {
		c.Host.Group = "all"
	}

	if c.User.Privilege == "" {
		c.User.Privilege = "G"
	}

	if c.Image.FreeSpaceGB == 0 {
		c.Image.FreeSpaceGB = 50
	}
	if c.Image.ConsoleLogKB == 0 {
		c.Image.ConsoleLogKB = 100
	}

	if c.Timeouts.ReachableSeconds == 0 {
		c.Timeouts.ReachableSeconds = 300
	}
	if c.Timeouts.PollIntervalSeconds == 0 {
		c.Timeouts.PollIntervalSeconds = 5
	}
}

// Validate checks the configuration for errors. It does not touch the
// gateway; only structure is checked.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gateway.url must be an absolute URL, got %q", c.Gateway.URL)
	}
	if c.Gateway.Username == "" {
		return fmt.Errorf("gateway.username is required")
	}

	if c.Host.Domain == "" {
		return fmt.Errorf("host.domain is required")
	}
	if c.Host.HCP == "" {
		return fmt.Errorf("host.hcp is required")
	}

	if c.Disk.Pool == "" {
		return fmt.Errorf("disk.pool is required")
	}
	if c.Disk.Type != "ECKD" && c.Disk.Type != "FBA" {
		return fmt.Errorf("disk.type must be ECKD or FBA, got %q", c.Disk.Type)
	}

	for _, v := range []struct{ name, value string }{
		{"vdev.root", c.Vdev.Root},
		{"vdev.ephemeral", c.Vdev.Ephemeral},
		{"vdev.nic", c.Vdev.NIC},
		{"vdev.volume", c.Vdev.Volume},
	} {
		if _, err := strconv.ParseUint(v.value, 16, 16); err != nil {
			return fmt.Errorf("%s must be a hexadecimal device address, got %q", v.name, v.value)
		}
	}

	if c.User.Profile == "" {
		return fmt.Errorf("user.profile is required")
	}
	if len(c.User.Privilege) != 1 {
		return fmt.Errorf("user.privilege must be a single privilege class, got %q", c.User.Privilege)
	}

	if c.Network.Vswitch == "" {
		return fmt.Errorf("network.vswitch is required")
	}

	return nil
}

// Load reads, normalizes, and validates a host configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
