package instance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/smapi"
	"github.com/jbweber/crucible/internal/workflow"
)

// ImageMetadata is the image identity recorded against a registration
// so the deployment machinery knows what it is laying down.
type ImageMetadata struct {
	OSVersion    string
	Architecture string
	Profile      string
}

// Options carries the management-domain defaults every instance
// operation needs.
type Options struct {
	// HCP is the hardware control point registrations bind to.
	HCP string

	// Group is the registration group new nodes join.
	Group string

	DiskPool string
	// DiskType selects the disk geometry, ECKD or FBA.
	DiskType string

	UserProfile string
	Password    string
	Privilege   string

	// RootVdev is the device address of every instance's root disk.
	RootVdev string
}

// Operations implements the remote instance operations against a
// management gateway.
type Operations struct {
	client smapi.Caller
	opts   Options
	log    *zap.SugaredLogger

	// lockWait bounds how long Delete waits for a definition lock to
	// clear before giving up.
	lockWait workflow.Poller
}

// NewOperations returns an Operations bound to client.
func NewOperations(client smapi.Caller, opts Options, log *zap.SugaredLogger) *Operations {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Operations{
		client: client,
		opts:   opts,
		log:    log,
		lockWait: workflow.Poller{
			Interval:  5 * time.Second,
			Deadline:  5 * time.Minute,
			Transient: smapi.IsTransient,
		},
	}
}

// Register creates the registration record binding name to its identity
// and control point.
func (o *Operations) Register(ctx context.Context, name, userID string) error {
	body := []string{
		"userid=" + userID,
		"hcp=" + o.opts.HCP,
		"mgt=vm",
	}
	if o.opts.Group != "" {
		body = append(body, "groups="+o.opts.Group)
	}
	if _, err := o.client.Request(ctx, http.MethodPost, smapi.NodePath(name), body); err != nil {
		return fmt.Errorf("failed to register %s: %w", name, err)
	}
	return nil
}

// Unregister removes the registration record. A registration that does
// not exist counts as success.
func (o *Operations) Unregister(ctx context.Context, name string) error {
	_, err := o.client.Request(ctx, http.MethodDelete, smapi.NodePath(name), nil)
	if err != nil && !smapi.IsNotFound(err) {
		return fmt.Errorf("failed to unregister %s: %w", name, err)
	}
	return nil
}

// registration attributes that are local to a node and must not follow
// it to a copy.
var uncopiedAttributes = map[string]bool{
	"postscripts":     true,
	"postbootscripts": true,
	"hostnames":       true,
}

// CopyRegistration creates dst's registration from src's attributes,
// dropping the attributes that are local to src.
func (o *Operations) CopyRegistration(ctx context.Context, dst, src string) error {
	resp, err := o.client.Request(ctx, http.MethodGet, smapi.NodePath(src), nil)
	if err != nil {
		return fmt.Errorf("failed to read registration of %s: %w", src, err)
	}
	lines, err := resp.InfoLines()
	if err != nil {
		return fmt.Errorf("failed to read registration of %s: %w", src, err)
	}

	var body []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		key, _, found := strings.Cut(line, "=")
		if !found || uncopiedAttributes[key] {
			continue
		}
		body = append(body, line)
	}
	if len(body) == 0 {
		return &smapi.MalformedResponseError{Want: "registration attributes"}
	}

	if _, err := o.client.Request(ctx, http.MethodPost, smapi.NodePath(dst), body); err != nil {
		return fmt.Errorf("failed to copy registration %s to %s: %w", src, dst, err)
	}
	return nil
}

// CreateDefinition creates the virtual machine definition for inst,
// adds its root disk, and marks that disk bootable. Ephemeral disks in
// inst are added after the root disk in order.
func (o *Operations) CreateDefinition(ctx context.Context, inst *Instance) error {
	body := []string{
		"profile=" + o.opts.UserProfile,
		"password=" + o.opts.Password,
		fmt.Sprintf("cpus=%d", inst.VCPUs),
		fmt.Sprintf("memory=%dm", inst.MemoryMiB),
	}
	if o.opts.Privilege != "" {
		body = append(body, "privilege="+o.opts.Privilege)
	}
	if _, err := o.client.Request(ctx, http.MethodPost, smapi.VMPath(inst.Name), body); err != nil {
		return fmt.Errorf("failed to define %s: %w", inst.Name, err)
	}

	if err := o.AddDisk(ctx, inst.Name, o.opts.RootVdev, fmt.Sprintf("%dg", inst.RootDiskGB), ""); err != nil {
		return err
	}
	if err := o.SetBootDevice(ctx, inst.Name, o.opts.RootVdev); err != nil {
		return err
	}
	for _, eph := range inst.Ephemeral {
		if err := o.AddDisk(ctx, inst.Name, eph.Vdev, eph.Size, eph.Format); err != nil {
			return err
		}
	}
	return nil
}

// AddDisk attaches a new minidisk at vdev. size uses the gateway's
// units; format names a filesystem to create, or empty for raw.
func (o *Operations) AddDisk(ctx context.Context, name, vdev, size, format string) error {
	action := "add3390"
	if strings.EqualFold(o.opts.DiskType, "FBA") {
		action = "add9336"
	}
	body := []string{
		"action=" + action,
		"pool=" + o.opts.DiskPool,
		"vdev=" + vdev,
		"size=" + size,
		"mode=MR",
	}
	if format != "" {
		body = append(body, "format="+format)
	}
	if _, err := o.client.Request(ctx, http.MethodPut, smapi.VMDevicesPath(name), body); err != nil {
		return fmt.Errorf("failed to add disk %s to %s: %w", vdev, name, err)
	}
	return nil
}

// RemoveDisk detaches the minidisk at vdev from name.
func (o *Operations) RemoveDisk(ctx context.Context, name, vdev string) error {
	body := []string{"action=remove", "vdev=" + vdev}
	if _, err := o.client.Request(ctx, http.MethodPut, smapi.VMDevicesPath(name), body); err != nil {
		return fmt.Errorf("failed to remove disk %s from %s: %w", vdev, name, err)
	}
	return nil
}

// SetBootDevice marks the disk at vdev as the IPL device.
func (o *Operations) SetBootDevice(ctx context.Context, name, vdev string) error {
	body := []string{"action=setipl", "vdev=" + vdev}
	if _, err := o.client.Request(ctx, http.MethodPut, smapi.VMDevicesPath(name), body); err != nil {
		return fmt.Errorf("failed to set boot device %s on %s: %w", vdev, name, err)
	}
	return nil
}

// DeployOptions qualifies a Deploy call. TransportFiles is a local
// archive the deployment unpacks onto the root filesystem; RemoteHost
// is where the image bundle lives when it is not already imported.
type DeployOptions struct {
	TransportFiles string
	RemoteHost     string
}

// Deploy writes image onto name's root disk.
func (o *Operations) Deploy(ctx context.Context, name, image string, opts DeployOptions) error {
	body := []string{
		"image=" + image,
		"device=" + o.opts.RootVdev,
	}
	if opts.TransportFiles != "" {
		body = append(body, "transportfiles="+opts.TransportFiles)
	}
	if opts.RemoteHost != "" {
		body = append(body, "remotehost="+opts.RemoteHost)
	}
	if _, err := o.client.Request(ctx, http.MethodPut, smapi.VMDeployPath(name), body); err != nil {
		return fmt.Errorf("failed to deploy %s onto %s: %w", image, name, err)
	}
	return nil
}

// Delete removes name's virtual machine definition. A definition that
// does not exist collapses to unregistering the node. A locked
// definition is retried after the lock clears.
func (o *Operations) Delete(ctx context.Context, name string) error {
	err := o.deleteOnce(ctx, name)
	if err == nil {
		return nil
	}
	if smapi.IsNotFound(err) {
		o.log.Debugf("definition of %s already gone, removing registration", name)
		return o.Unregister(ctx, name)
	}
	if !smapi.IsLocked(err) {
		return err
	}

	o.log.Infof("definition of %s is locked, waiting for the lock to clear", name)
	cleared, werr := o.lockWait.Wait(func() (bool, error) {
		locked, err := o.Locked(ctx, name)
		if err != nil {
			return false, err
		}
		return !locked, nil
	})
	if werr != nil {
		return fmt.Errorf("failed waiting for lock on %s: %w", name, werr)
	}
	if !cleared {
		return fmt.Errorf("failed to delete %s: definition stayed locked", name)
	}

	err = o.deleteOnce(ctx, name)
	if err != nil && !smapi.IsNotFound(err) {
		return err
	}
	return nil
}

func (o *Operations) deleteOnce(ctx context.Context, name string) error {
	if _, err := o.client.Request(ctx, http.MethodDelete, smapi.VMPath(name), nil); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// Locked reports whether name's definition is currently locked.
func (o *Operations) Locked(ctx context.Context, name string) (bool, error) {
	resp, err := o.client.Request(ctx, http.MethodGet, smapi.VMLockPath(name), nil)
	if err != nil {
		return false, fmt.Errorf("failed to query lock on %s: %w", name, err)
	}
	info, err := resp.FirstInfo()
	if err != nil {
		return false, err
	}
	return !strings.Contains(info, "Unlocked"), nil
}

// PowerOn logs name on. An instance that is already running counts as
// success.
func (o *Operations) PowerOn(ctx context.Context, name string) error {
	return o.power(ctx, name, "on", 8)
}

// PowerOff logs name off. An instance that is not active counts as
// success.
func (o *Operations) PowerOff(ctx context.Context, name string) error {
	return o.power(ctx, name, "off", 12)
}

// Pause suspends execution of name without logging it off.
func (o *Operations) Pause(ctx context.Context, name string) error {
	return o.power(ctx, name, "pause", 0)
}

// Unpause resumes a paused instance.
func (o *Operations) Unpause(ctx context.Context, name string) error {
	return o.power(ctx, name, "unpause", 0)
}

// Reboot restarts the guest operating system in an orderly fashion.
func (o *Operations) Reboot(ctx context.Context, name string) error {
	return o.power(ctx, name, "reboot", 0)
}

// Reset forces name off and back on. An instance that was not active
// still comes up.
func (o *Operations) Reset(ctx context.Context, name string) error {
	return o.power(ctx, name, "reset", 12)
}

// power drives one power action. tolerate is the reason code under
// return code 200 that means the instance was already in the requested
// state; zero tolerates nothing.
func (o *Operations) power(ctx context.Context, name, action string, tolerate int) error {
	_, err := o.client.Request(ctx, http.MethodPut, smapi.VMPowerPath(name), []string{action})
	if err == nil {
		return nil
	}
	var re *smapi.RequestError
	if tolerate != 0 && errors.As(err, &re) && re.Code == 200 && re.ReasonCode == tolerate {
		o.log.Debugf("power %s on %s: already in requested state", action, name)
		return nil
	}
	return fmt.Errorf("failed to power %s instance %s: %w", action, name, err)
}

// PowerState queries name's power state. An instance with no
// definition reports PowerAbsent rather than an error.
func (o *Operations) PowerState(ctx context.Context, name string) (PowerState, error) {
	resp, err := o.client.Request(ctx, http.MethodGet, smapi.VMPowerPath(name), nil)
	if err != nil {
		if smapi.IsNotFound(err) {
			return PowerAbsent, nil
		}
		return PowerNoState, fmt.Errorf("failed to query power state of %s: %w", name, err)
	}
	info, err := resp.FirstInfo()
	if err != nil {
		return PowerNoState, err
	}
	// The gateway reports "<name>: <state>".
	_, state, found := strings.Cut(info, ": ")
	if !found {
		return PowerNoState, &smapi.MalformedResponseError{Want: "power state report"}
	}
	return ParseRemotePowerState(strings.TrimSpace(state)), nil
}

// Reachable reports whether name's guest answers on its management
// channel. It is the readiness probe spawn polls after power-on.
func (o *Operations) Reachable(ctx context.Context, name string) (bool, error) {
	resp, err := o.client.Request(ctx, http.MethodGet, smapi.NodeStatusPath(name), nil)
	if err != nil {
		return false, fmt.Errorf("failed to query status of %s: %w", name, err)
	}
	data, err := resp.NodeData()
	if err != nil {
		return false, err
	}
	return strings.Contains(data, "sshd"), nil
}

// ProvisioningMethod returns the provisioning method recorded against
// name's registration.
func (o *Operations) ProvisioningMethod(ctx context.Context, name string) (string, error) {
	path := smapi.TableQueryPath("nodetype", "node", name, "provmethod")
	resp, err := o.client.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to query provisioning method of %s: %w", name, err)
	}
	method, err := resp.FirstData()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(method), nil
}

// SetProvisioningMethod records method against name's registration.
func (o *Operations) SetProvisioningMethod(ctx context.Context, name, method string) error {
	body := []string{"node=" + name, "provmethod=" + method}
	if _, err := o.client.Request(ctx, http.MethodPut, smapi.TablePath("nodetype"), body); err != nil {
		return fmt.Errorf("failed to set provisioning method of %s: %w", name, err)
	}
	return nil
}

// UpdateIdentity rebinds name's registration to a new identity and
// control point. Incoming migrations use it to adopt an instance.
func (o *Operations) UpdateIdentity(ctx context.Context, name, userID, hcp string) error {
	body := []string{"node=" + name, "userid=" + userID, "hcp=" + hcp}
	if _, err := o.client.Request(ctx, http.MethodPut, smapi.TablePath("identity"), body); err != nil {
		return fmt.Errorf("failed to update identity of %s: %w", name, err)
	}
	return nil
}

// UpdateImageMetadata records the deployed image's identity against
// name's registration.
func (o *Operations) UpdateImageMetadata(ctx context.Context, name string, meta ImageMetadata) error {
	body := []string{
		"node=" + name,
		"os=" + meta.OSVersion,
		"arch=" + meta.Architecture,
	}
	if meta.Profile != "" {
		body = append(body, "profile="+meta.Profile)
	}
	if _, err := o.client.Request(ctx, http.MethodPut, smapi.TablePath("nodetype"), body); err != nil {
		return fmt.Errorf("failed to update image metadata of %s: %w", name, err)
	}
	return nil
}

// UserDirectory returns name's raw definition, one directory statement
// per line.
func (o *Operations) UserDirectory(ctx context.Context, name string) ([]string, error) {
	resp, err := o.client.Request(ctx, http.MethodGet, smapi.VMPath(name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition of %s: %w", name, err)
	}
	return resp.InfoLines()
}

// EphemeralDisks parses name's definition for its ephemeral minidisks.
// The root disk is excluded; sizes come back in the gateway's native
// units.
func (o *Operations) EphemeralDisks(ctx context.Context, name string) ([]EphemeralDisk, error) {
	lines, err := o.UserDirectory(ctx, name)
	if err != nil {
		return nil, err
	}

	var disks []EphemeralDisk
	for _, line := range lines {
		_, rest, found := strings.Cut(line, "MDISK ")
		if !found {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 4 {
			return nil, &smapi.MalformedResponseError{Want: "minidisk statement"}
		}
		if strings.EqualFold(fields[0], o.opts.RootVdev) {
			continue
		}
		disks = append(disks, EphemeralDisk{Vdev: strings.ToLower(fields[0]), Size: fields[3]})
	}
	return disks, nil
}

// RelocateTest asks the relocation facility whether name can move to
// destination without actually moving it. The returned error carries
// the facility's reason codes.
func (o *Operations) RelocateTest(ctx context.Context, name, destination string) error {
	body := []string{"action=test", "destination=" + destination}
	if _, err := o.client.Request(ctx, http.MethodPut, smapi.VMRelocatePath(name), body); err != nil {
		return fmt.Errorf("relocation test of %s to %s: %w", name, destination, err)
	}
	return nil
}

// RelocateOptions bounds a relocation.
type RelocateOptions struct {
	// MaxTotal caps total relocation time in seconds; zero passes no
	// cap.
	MaxTotal int

	// MaxQuiesce caps guest quiesce time in seconds; zero passes no
	// cap.
	MaxQuiesce int

	// Immediate asks the facility to cancel instead of retrying when
	// the guest cannot be moved right away.
	Immediate bool
}

// Relocate moves name to destination and returns the facility's final
// status record. The caller decides what counts as success.
func (o *Operations) Relocate(ctx context.Context, name, destination string, opts RelocateOptions) (string, error) {
	body := []string{"action=move", "destination=" + destination}
	if opts.MaxTotal > 0 {
		body = append(body, fmt.Sprintf("maxtotal=%d", opts.MaxTotal))
	}
	if opts.MaxQuiesce > 0 {
		body = append(body, fmt.Sprintf("maxquiesce=%d", opts.MaxQuiesce))
	}
	if opts.Immediate {
		body = append(body, "immediate=yes")
	}
	resp, err := o.client.Request(ctx, http.MethodPut, smapi.VMRelocatePath(name), body)
	if err != nil {
		return "", fmt.Errorf("relocation of %s to %s: %w", name, destination, err)
	}
	return resp.LastInfoRecord()
}

// HostInventory returns the raw inventory report of a hypervisor host.
func (o *Operations) HostInventory(ctx context.Context, host string) ([]string, error) {
	resp, err := o.client.Request(ctx, http.MethodGet, smapi.HostInventoryPath(host), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory of %s: %w", host, err)
	}
	return resp.InfoLines()
}

// ConsoleLog returns the most recent guest console output.
func (o *Operations) ConsoleLog(ctx context.Context, name string) (string, error) {
	resp, err := o.client.Request(ctx, http.MethodGet, smapi.VMInventoryPath(name, "console"), nil)
	if err != nil {
		return "", fmt.Errorf("failed to read console log of %s: %w", name, err)
	}
	return resp.FirstInfo()
}
