package fabric

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/smapi"
)

// maxRegrantBatch caps how many identities one re-grant request may
// carry. Larger sets are split into sequential batches.
const maxRegrantBatch = 1000

// Binding is one fabric port coupled to an instance.
type Binding struct {
	// PortID identifies the port in the fabric controller.
	PortID string

	// Switch is the virtual switch the port belongs to.
	Switch string

	// Vdev is the guest device address the port is coupled to.
	Vdev string

	MAC string

	// VLANID tags the port; zero leaves it untagged.
	VLANID int
}

// Manager drives the fabric side of the management gateway. All
// methods address switches and the shared switch table; per-guest
// device actions go through the instance's device resource.
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

// GrantAccess authorizes userID to connect to the named switch.
func (m *Manager) GrantAccess(ctx context.Context, vswitch, userID string) error {
	body := []string{"action=grant", "userid=" + userID}
	if _, err := m.client.Request(ctx, http.MethodPut, smapi.VswitchPath(vswitch), body); err != nil {
		return fmt.Errorf("failed to grant %s access to switch %s: %w", userID, vswitch, err)
	}
	return nil
}

// RevokeAccess removes userID's authorization on the named switch.
func (m *Manager) RevokeAccess(ctx context.Context, vswitch, userID string) error {
	body := []string{"action=revoke", "userid=" + userID}
	if _, err := m.client.Request(ctx, http.MethodPut, smapi.VswitchPath(vswitch), body); err != nil {
		return fmt.Errorf("failed to revoke %s access to switch %s: %w", userID, vswitch, err)
	}
	return nil
}

// SetPortVLAN tags userID's port on the named switch with vlanID.
func (m *Manager) SetPortVLAN(ctx context.Context, vswitch, userID string, vlanID int) error {
	body := []string{"action=setvlan", "userid=" + userID, fmt.Sprintf("vlan=%d", vlanID)}
	if _, err := m.client.Request(ctx, http.MethodPut, smapi.VswitchPath(vswitch), body); err != nil {
		return fmt.Errorf("failed to set vlan %d for %s on switch %s: %w", vlanID, userID, vswitch, err)
	}
	return nil
}

// CoupleInterface connects the guest device at vdev to the named
// switch.
func (m *Manager) CoupleInterface(ctx context.Context, name, vdev, vswitch string) error {
	body := []string{"action=couple", "vdev=" + vdev, "switch=" + vswitch}
	if _, err := m.client.Request(ctx, http.MethodPut, smapi.VMDevicesPath(name), body); err != nil {
		return fmt.Errorf("failed to couple %s device %s to switch %s: %w", name, vdev, vswitch, err)
	}
	return nil
}

// UncoupleInterface disconnects the guest device at vdev from its
// switch.
func (m *Manager) UncoupleInterface(ctx context.Context, name, vdev string) error {
	body := []string{"action=uncouple", "vdev=" + vdev}
	if _, err := m.client.Request(ctx, http.MethodPut, smapi.VMDevicesPath(name), body); err != nil {
		return fmt.Errorf("failed to uncouple %s device %s: %w", name, vdev, err)
	}
	return nil
}

// BindPort grants userID access to the switch, couples the guest
// device, and records the binding in the switch table.
func (m *Manager) BindPort(ctx context.Context, name, userID, vswitch string, b Binding) error {
	if err := m.GrantAccess(ctx, vswitch, userID); err != nil {
		return err
	}
	// The VLAN tag must be in place before the device couples.
	if b.VLANID > 0 {
		if err := m.SetPortVLAN(ctx, vswitch, userID, b.VLANID); err != nil {
			return err
		}
	}
	if err := m.CoupleInterface(ctx, name, b.Vdev, vswitch); err != nil {
		return err
	}

	body := []string{
		"node=" + name,
		"port=" + b.PortID,
		"interface=" + b.Vdev,
		"switch=" + vswitch,
	}
	if b.MAC != "" {
		body = append(body, "mac="+b.MAC)
	}
	if _, err := m.client.Request(ctx, http.MethodPut, smapi.TablePath("switch"), body); err != nil {
		return fmt.Errorf("failed to record binding of port %s to %s: %w", b.PortID, name, err)
	}
	return nil
}

// NICBound reports whether the guest device at vdev is coupled to the
// named switch and the coupling has been granted. The device query
// lists one NICDEF record per adapter; a granted coupling shows as
// "LAN SYSTEM <switch>" on that record. A guest the gateway does not
// know yet reports unbound, not an error.
func (m *Manager) NICBound(ctx context.Context, name, vdev, vswitch string) (bool, error) {
	resp, err := m.client.Request(ctx, http.MethodGet, smapi.VMDevicesPath(name), nil)
	if err != nil {
		if smapi.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query devices of %s: %w", name, err)
	}
	rows, err := resp.DataRows()
	if err != nil {
		return false, fmt.Errorf("failed to query devices of %s: %w", name, err)
	}

	prefix := "NICDEF " + strings.ToUpper(vdev)
	for _, row := range rows {
		r := strings.ToUpper(strings.TrimSpace(row))
		if r != prefix && !strings.HasPrefix(r, prefix+" ") {
			continue
		}
		return strings.Contains(r, "LAN SYSTEM "+strings.ToUpper(vswitch)), nil
	}
	return false, nil
}

// Bindings returns the fabric ports currently bound to name. A name
// with no bindings returns an empty slice, not an error.
func (m *Manager) Bindings(ctx context.Context, name string) ([]Binding, error) {
	path := smapi.TablePath("switch") + "?col=node&value=" + url.QueryEscape(name)
	resp, err := m.client.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		if smapi.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query bindings of %s: %w", name, err)
	}
	rows, err := resp.DataRows()
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings of %s: %w", name, err)
	}

	var bindings []Binding
	for _, row := range rows {
		b, ok := parseBindingRow(row)
		if !ok {
			continue
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// parseBindingRow decodes one quoted CSV row of the switch table:
// "node","port","interface","switch","mac".
func parseBindingRow(row string) (Binding, bool) {
	fields := strings.Split(row, ",")
	for i, f := range fields {
		fields[i] = strings.Trim(strings.TrimSpace(f), `"`)
	}
	if len(fields) < 4 || fields[0] == "" {
		return Binding{}, false
	}
	b := Binding{PortID: fields[1], Vdev: fields[2], Switch: fields[3]}
	if len(fields) > 4 {
		b.MAC = fields[4]
	}
	return b, true
}

// UnbindAll tears down every fabric binding of name: uncouple each
// device, revoke switch access, and drop the binding records. Teardown
// is best effort; individual failures are logged and the rest of the
// bindings are still processed.
func (m *Manager) UnbindAll(ctx context.Context, name, userID string) error {
	bindings, err := m.Bindings(ctx, name)
	if err != nil {
		return err
	}

	for _, b := range bindings {
		if err := m.UncoupleInterface(ctx, name, b.Vdev); err != nil {
			m.log.Warnf("Warning: %v", err)
		}
		if err := m.RevokeAccess(ctx, b.Switch, userID); err != nil {
			m.log.Warnf("Warning: %v", err)
		}
	}

	path := smapi.TablePath("switch") + "?col=node&value=" + url.QueryEscape(name)
	if _, err := m.client.Request(ctx, http.MethodDelete, path, nil); err != nil && !smapi.IsNotFound(err) {
		return fmt.Errorf("failed to drop binding records of %s: %w", name, err)
	}
	return nil
}

// RecordAddress publishes name's management address so other hosts can
// resolve it.
func (m *Manager) RecordAddress(ctx context.Context, name, ip, hostname string) error {
	body := []string{"node=" + name, "ip=" + ip, "hostname=" + hostname}
	if _, err := m.client.Request(ctx, http.MethodPut, smapi.TablePath("hosts"), body); err != nil {
		return fmt.Errorf("failed to record address of %s: %w", name, err)
	}
	return nil
}

// ReGrantAll replaces the authorized-user set of a switch. The gateway
// bounds how many identities one request may carry, so large sets go
// out in sequential batches.
func (m *Manager) ReGrantAll(ctx context.Context, vswitch string, userIDs []string) error {
	for start := 0; start < len(userIDs); start += maxRegrantBatch {
		end := start + maxRegrantBatch
		if end > len(userIDs) {
			end = len(userIDs)
		}
		body := []string{
			"action=grant",
			"userid=" + strings.Join(userIDs[start:end], " "),
		}
		if _, err := m.client.Request(ctx, http.MethodPut, smapi.VswitchPath(vswitch), body); err != nil {
			return fmt.Errorf("failed to re-grant users on switch %s: %w", vswitch, err)
		}
	}
	return nil
}
