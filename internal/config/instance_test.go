package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSSHKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIbJKZscbOLzBsgY5y2QupKW4A2kSDjMBQGPb1dChr+S test@example.com"

func validInstance() *InstanceConfig {
	c := &InstanceConfig{
		Name:       "vm1",
		VCPUs:      2,
		MemoryMiB:  2048,
		RootDiskGB: 5,
		Image:      "rhel7-img1",
		Networks: []NetworkInterfaceConfig{
			{IP: "10.20.30.40/24", Gateway: "10.20.30.1", PortID: "port-1"},
		},
	}
	c.Normalize()
	return c
}

func TestInstanceValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*InstanceConfig)
		wantErr string
	}{
		{"valid", func(c *InstanceConfig) {}, ""},
		{"missing name", func(c *InstanceConfig) { c.Name = "" }, "name is required"},
		{"name too long", func(c *InstanceConfig) { c.Name = "very-long-name" }, "at most 8"},
		{"bad name", func(c *InstanceConfig) { c.Name = "-vm1" }, "alphanumeric"},
		{"zero vcpus", func(c *InstanceConfig) { c.VCPUs = 0 }, "vcpus"},
		{"zero memory", func(c *InstanceConfig) { c.MemoryMiB = 0 }, "memory_mib"},
		{"zero root disk", func(c *InstanceConfig) { c.RootDiskGB = 0 }, "root_disk_gb"},
		{"missing image", func(c *InstanceConfig) { c.Image = "" }, "image is required"},
		{
			"bad ephemeral format",
			func(c *InstanceConfig) {
				c.EphemeralDisks = []EphemeralDiskConfig{{SizeGB: 1, Format: "ntfs"}}
			},
			"unsupported format",
		},
		{"no networks", func(c *InstanceConfig) { c.Networks = nil }, "network_interfaces"},
		{
			"duplicate ip",
			func(c *InstanceConfig) {
				c.Networks = append(c.Networks, c.Networks[0])
			},
			"duplicate IP",
		},
		{
			"bad gateway",
			func(c *InstanceConfig) { c.Networks[0].Gateway = "not-an-ip" },
			"gateway",
		},
		{
			"bad ssh key",
			func(c *InstanceConfig) { c.SSHKeys = []string{"not a key"} },
			"SSH public key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validInstance()
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInstanceIdentityHelpers(t *testing.T) {
	c := validInstance()
	c.FQDN = "vm1.example.com"

	if c.UserID() != "VM1" {
		t.Errorf("expected VM1, got %q", c.UserID())
	}
	if c.Hostname() != "vm1" {
		t.Errorf("expected vm1, got %q", c.Hostname())
	}
}

func TestCalculateMACs(t *testing.T) {
	c := validInstance()
	if err := c.CalculateMACs(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Networks[0].MACAddress != "be:ef:0a:14:1e:28" {
		t.Errorf("unexpected MAC: %q", c.Networks[0].MACAddress)
	}
}

func TestLoadInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vm1.yaml")
	content := `
name: VM1
vcpus: 2
memory_mib: 2048
root_disk_gb: 5
image: rhel7-img1
ephemeral_disks:
  - size_gb: 2
    format: EXT4
network_interfaces:
  - ip: 10.20.30.40/24
    gateway: 10.20.30.1
    port_id: port-1
ssh_keys:
  - "` + testSSHKey + `"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write instance file: %v", err)
	}

	c, err := LoadInstance(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name != "vm1" {
		t.Errorf("expected name normalized to vm1, got %q", c.Name)
	}
	if c.EphemeralDisks[0].Format != "ext4" {
		t.Errorf("expected format normalized to ext4, got %q", c.EphemeralDisks[0].Format)
	}
	if c.Networks[0].MACAddress == "" {
		t.Error("expected MAC address to be derived")
	}
}
