// Package configdrive builds the configuration drive an instance reads
// on first boot: instance metadata, injected files, and the network
// setup script that brings the guest's channel devices online.
package configdrive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kdomanski/iso9660"
)

// volumeLabel is what guests probe for when looking for a
// configuration drive.
const volumeLabel = "config-2"

// networkScriptPath is where the network setup script lands in the
// guest. The script removes itself after running.
const networkScriptPath = "/tmp/znetconfig.sh"

// File is one file injected into the guest on first boot.
type File struct {
	Path    string
	Content string
}

// Drive describes the configuration drive for one instance.
type Drive struct {
	InstanceID   string
	InstanceName string
	Hostname     string

	// AdminPassword is injected into the metadata when set.
	AdminPassword string

	SSHKeys []string

	// NetworkCommands are the guest commands that write the channel
	// device configuration. Empty means the image carries its network
	// configuration already.
	NetworkCommands string

	Files []File
}

// settleFresh reconfigures channel devices from scratch before
// settling; used when the drive carries no network commands and the
// image's own configuration must be re-read.
var settleFresh = strings.Join([]string{
	"cio_ignore -R",
	"znetconf -R <<EOF",
	"y",
	"EOF",
	"udevadm trigger",
	"udevadm settle",
	"sleep 2",
	"znetconf -A",
	"service network restart",
	"cio_ignore -u",
}, "\n")

// settleConfigured settles devices the network commands just wrote.
var settleConfigured = strings.Join([]string{
	"cio_ignore -R",
	"udevadm trigger",
	"udevadm settle",
	"sleep 2",
	"service network restart",
	"cio_ignore -u",
}, "\n")

// NetworkScript renders the network setup script around the given
// device configuration commands.
func NetworkScript(commands string) string {
	var parts []string
	if commands == "" {
		parts = []string{"#!/bin/sh", settleFresh}
	} else {
		parts = []string{"#!/bin/sh", commands, settleConfigured}
	}
	return strings.Join(parts, "\n") + "\nrm -rf " + networkScriptPath + "\n"
}

// metaData is the metadata document at openstack/latest/meta_data.json.
type metaData struct {
	UUID       string            `json:"uuid"`
	Name       string            `json:"name"`
	Hostname   string            `json:"hostname"`
	AdminPass  string            `json:"admin_pass,omitempty"`
	PublicKeys map[string]string `json:"public_keys,omitempty"`
	Files      []fileRef         `json:"files,omitempty"`
}

// fileRef points a guest path at its content file on the drive.
type fileRef struct {
	ContentPath string `json:"content_path"`
	Path        string `json:"path"`
}

// Build renders the drive as an ISO image ready to hand to the
// deployment machinery as transport files.
func (d *Drive) Build() ([]byte, error) {
	if d.InstanceName == "" {
		return nil, fmt.Errorf("config drive requires an instance name")
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	files := append([]File{}, d.Files...)
	files = append(files, File{Path: networkScriptPath, Content: NetworkScript(d.NetworkCommands)})

	md := metaData{
		UUID:      d.InstanceID,
		Name:      d.InstanceName,
		Hostname:  d.Hostname,
		AdminPass: d.AdminPassword,
	}
	if md.UUID == "" {
		md.UUID = uuid.NewString()
	}
	if md.Hostname == "" {
		md.Hostname = d.InstanceName
	}
	if len(d.SSHKeys) > 0 {
		md.PublicKeys = make(map[string]string, len(d.SSHKeys))
		for i, key := range d.SSHKeys {
			md.PublicKeys[fmt.Sprintf("key-%d", i)] = key
		}
	}

	for i, f := range files {
		contentPath := fmt.Sprintf("openstack/content/%04d", i)
		if err := writer.AddFile(strings.NewReader(f.Content), contentPath); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.Path, err)
		}
		md.Files = append(md.Files, fileRef{ContentPath: "/" + contentPath, Path: f.Path})
	}

	encoded, err := json.Marshal(&md)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writer.AddFile(bytes.NewReader(encoded), "openstack/latest/meta_data.json"); err != nil {
		return nil, fmt.Errorf("failed to add metadata: %w", err)
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, volumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}
