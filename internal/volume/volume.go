// Package volume attaches and detaches external SCSI volumes on
// instances through the management gateway.
package volume

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/smapi"
)

// ConnectionInfo identifies a volume on the storage fabric.
type ConnectionInfo struct {
	WWPN string
	LUN  string

	// FCP is the guest channel device the volume presents on. Empty
	// lets the gateway pick one.
	FCP string
}

// Manager drives volume attachment on the management gateway.
type Manager struct {
	client smapi.Caller
	log    *zap.SugaredLogger
}

// NewManager returns a Manager bound to client.
func NewManager(client smapi.Caller, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{client: client, log: log}
}

// NormalizeMountpoint rewrites a requested guest device node to the
// name the guest will actually see. A node like /dev/sdb is only a
// link once a second device appears, so SCSI-style names become
// /dev/vdX; names derived from a /dev/dasdX root collapse to /dev/dX
// first and get the same treatment.
func NormalizeMountpoint(mountpoint string) string {
	mountpoint = strings.ToLower(mountpoint)
	mountpoint = strings.ReplaceAll(mountpoint, "/dev/d", "/dev/sd")
	return strings.ReplaceAll(mountpoint, "/dev/s", "/dev/v")
}

// Attach connects the volume described by conn to name at mountpoint.
// active reports whether the guest is up; an active guest gets the
// device plugged live.
func (m *Manager) Attach(ctx context.Context, name string, conn ConnectionInfo, mountpoint string, active bool) error {
	body := m.volumeBody("attachvolume", conn, mountpoint, active)
	if _, err := m.client.Request(ctx, http.MethodPut, smapi.VMDevicesPath(name), body); err != nil {
		return fmt.Errorf("failed to attach volume %s/%s to %s: %w", conn.WWPN, conn.LUN, name, err)
	}
	return nil
}

// Detach disconnects the volume described by conn from name. A volume
// that is already gone counts as success.
func (m *Manager) Detach(ctx context.Context, name string, conn ConnectionInfo, mountpoint string, active bool) error {
	body := m.volumeBody("detachvolume", conn, mountpoint, active)
	_, err := m.client.Request(ctx, http.MethodPut, smapi.VMDevicesPath(name), body)
	if err != nil && !smapi.IsNotFound(err) {
		return fmt.Errorf("failed to detach volume %s/%s from %s: %w", conn.WWPN, conn.LUN, name, err)
	}
	return nil
}

func (m *Manager) volumeBody(action string, conn ConnectionInfo, mountpoint string, active bool) []string {
	body := []string{
		"action=" + action,
		"wwpn=" + strings.ToLower(conn.WWPN),
		"lun=" + strings.ToLower(conn.LUN),
		"active=" + strconv.FormatBool(active),
	}
	if conn.FCP != "" {
		body = append(body, "fcp="+strings.ToLower(conn.FCP))
	}
	if mountpoint != "" {
		body = append(body, "mountpoint="+NormalizeMountpoint(mountpoint))
	}
	return body
}
