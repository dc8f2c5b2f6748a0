package smapi

import (
	"fmt"
	"net/url"
)

// Resource path builders for the management gateway. Paths address
// either the registration layer (nodes), the virtual machine layer
// (vms), shared tables, or the image repository.

// NodePath addresses an instance's registration record.
func NodePath(name string) string {
	return "/nodes/" + url.PathEscape(name)
}

// NodeStatusPath addresses an instance's management-channel status.
func NodeStatusPath(name string) string {
	return NodePath(name) + "/status"
}

// NodeCommandPath addresses remote command execution on a node.
func NodeCommandPath(name string) string {
	return NodePath(name) + "/dsh"
}

// VMPath addresses an instance's virtual machine definition.
func VMPath(name string) string {
	return "/vms/" + url.PathEscape(name)
}

// VMPowerPath addresses an instance's power state.
func VMPowerPath(name string) string {
	return VMPath(name) + "/power"
}

// VMDevicesPath addresses an instance's device configuration.
func VMDevicesPath(name string) string {
	return VMPath(name) + "/devices"
}

// VMLockPath addresses an instance's definition lock state.
func VMLockPath(name string) string {
	return VMPath(name) + "/lock"
}

// VMDeployPath addresses image deployment onto an instance's disks.
func VMDeployPath(name string) string {
	return VMPath(name) + "/deploy"
}

// VMInventoryPath addresses an instance's remote inventory, restricted
// to the named fields.
func VMInventoryPath(name string, fields ...string) string {
	p := VMPath(name) + "/inventory"
	sep := "?"
	for _, f := range fields {
		p += sep + "field=" + url.QueryEscape(f)
		sep = "&"
	}
	return p
}

// VMRelocatePath addresses the relocation facility for an instance.
func VMRelocatePath(name string) string {
	return VMPath(name) + "/relocate"
}

// VswitchPath addresses a virtual switch on the fabric.
func VswitchPath(name string) string {
	return "/vswitches/" + url.PathEscape(name)
}

// TablePath addresses a shared management table.
func TablePath(table string) string {
	return "/tables/" + url.PathEscape(table)
}

// TableQueryPath addresses a single attribute of a table row.
func TableQueryPath(table, column, value, attribute string) string {
	return fmt.Sprintf("%s?col=%s&value=%s&attribute=%s",
		TablePath(table),
		url.QueryEscape(column), url.QueryEscape(value), url.QueryEscape(attribute))
}

// ImagesPath addresses the image repository.
func ImagesPath() string {
	return "/images"
}

// ImagePath addresses one image in the repository.
func ImagePath(name string) string {
	return "/images/" + url.PathEscape(name)
}

// ImageExportPath addresses the export operation for one image.
func ImageExportPath(name string) string {
	return ImagePath(name) + "/export"
}

// ImageCapturePath addresses disk capture into the repository.
func ImageCapturePath(instance string) string {
	return VMPath(instance) + "/capture"
}

// HostInventoryPath addresses a hypervisor host's inventory.
func HostInventoryPath(host string, fields ...string) string {
	p := "/hosts/" + url.PathEscape(host) + "/inventory"
	sep := "?"
	for _, f := range fields {
		p += sep + "field=" + url.QueryEscape(f)
		sep = "&"
	}
	return p
}
