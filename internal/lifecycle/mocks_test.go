package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/fabric"
	"github.com/jbweber/crucible/internal/instance"
	"github.com/jbweber/crucible/internal/volume"
)

// callLog records the order of operations across all mocks.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.calls...)
}

func (l *callLog) contains(call string) bool {
	for _, c := range l.all() {
		if c == call {
			return true
		}
	}
	return false
}

// indexOf returns the position of call, or -1.
func (l *callLog) indexOf(call string) int {
	for i, c := range l.all() {
		if c == call {
			return i
		}
	}
	return -1
}

// mockOps implements instanceOps. Every operation succeeds unless a
// fail hook says otherwise.
type mockOps struct {
	log  *callLog
	fail map[string]error

	powerState   instance.PowerState
	provMethod   string
	ephDisks     []instance.EphemeralDisk
	reachable    bool
	relocateErr  error
	relocateResp string
	inventory    []string
	consoleOut   string
}

func (m *mockOps) failFor(op string) error {
	if m.fail == nil {
		return nil
	}
	return m.fail[op]
}

func (m *mockOps) Register(ctx context.Context, name, userID string) error {
	m.log.add("Register %s %s", name, userID)
	return m.failFor("Register")
}

func (m *mockOps) Unregister(ctx context.Context, name string) error {
	m.log.add("Unregister %s", name)
	return m.failFor("Unregister")
}

func (m *mockOps) CopyRegistration(ctx context.Context, dst, src string) error {
	m.log.add("CopyRegistration %s %s", dst, src)
	return m.failFor("CopyRegistration")
}

func (m *mockOps) CreateDefinition(ctx context.Context, inst *instance.Instance) error {
	m.log.add("CreateDefinition %s", inst.Name)
	return m.failFor("CreateDefinition")
}

func (m *mockOps) AddDisk(ctx context.Context, name, vdev, size, format string) error {
	m.log.add("AddDisk %s %s %s", name, vdev, size)
	return m.failFor("AddDisk")
}

func (m *mockOps) RemoveDisk(ctx context.Context, name, vdev string) error {
	m.log.add("RemoveDisk %s %s", name, vdev)
	return m.failFor("RemoveDisk")
}

func (m *mockOps) Deploy(ctx context.Context, name, image string, opts instance.DeployOptions) error {
	m.log.add("Deploy %s %s", name, image)
	return m.failFor("Deploy")
}

func (m *mockOps) Delete(ctx context.Context, name string) error {
	m.log.add("Delete %s", name)
	return m.failFor("Delete")
}

func (m *mockOps) PowerOn(ctx context.Context, name string) error {
	m.log.add("PowerOn %s", name)
	return m.failFor("PowerOn")
}

func (m *mockOps) PowerOff(ctx context.Context, name string) error {
	m.log.add("PowerOff %s", name)
	return m.failFor("PowerOff")
}

func (m *mockOps) Pause(ctx context.Context, name string) error {
	m.log.add("Pause %s", name)
	return m.failFor("Pause")
}

func (m *mockOps) Unpause(ctx context.Context, name string) error {
	m.log.add("Unpause %s", name)
	return m.failFor("Unpause")
}

func (m *mockOps) Reboot(ctx context.Context, name string) error {
	m.log.add("Reboot %s", name)
	return m.failFor("Reboot")
}

func (m *mockOps) Reset(ctx context.Context, name string) error {
	m.log.add("Reset %s", name)
	return m.failFor("Reset")
}

func (m *mockOps) PowerState(ctx context.Context, name string) (instance.PowerState, error) {
	m.log.add("PowerState %s", name)
	if err := m.failFor("PowerState"); err != nil {
		return instance.PowerNoState, err
	}
	return m.powerState, nil
}

func (m *mockOps) Reachable(ctx context.Context, name string) (bool, error) {
	m.log.add("Reachable %s", name)
	if err := m.failFor("Reachable"); err != nil {
		return false, err
	}
	return m.reachable, nil
}

func (m *mockOps) ProvisioningMethod(ctx context.Context, name string) (string, error) {
	m.log.add("ProvisioningMethod %s", name)
	if err := m.failFor("ProvisioningMethod"); err != nil {
		return "", err
	}
	return m.provMethod, nil
}

func (m *mockOps) SetProvisioningMethod(ctx context.Context, name, method string) error {
	m.log.add("SetProvisioningMethod %s %s", name, method)
	return m.failFor("SetProvisioningMethod")
}

func (m *mockOps) UpdateIdentity(ctx context.Context, name, userID, hcp string) error {
	m.log.add("UpdateIdentity %s %s %s", name, userID, hcp)
	return m.failFor("UpdateIdentity")
}

func (m *mockOps) UpdateImageMetadata(ctx context.Context, name string, meta instance.ImageMetadata) error {
	m.log.add("UpdateImageMetadata %s %s", name, meta.OSVersion)
	return m.failFor("UpdateImageMetadata")
}

func (m *mockOps) EphemeralDisks(ctx context.Context, name string) ([]instance.EphemeralDisk, error) {
	m.log.add("EphemeralDisks %s", name)
	if err := m.failFor("EphemeralDisks"); err != nil {
		return nil, err
	}
	return m.ephDisks, nil
}

func (m *mockOps) ConsoleLog(ctx context.Context, name string) (string, error) {
	m.log.add("ConsoleLog %s", name)
	return m.consoleOut, m.failFor("ConsoleLog")
}

func (m *mockOps) RelocateTest(ctx context.Context, name, destination string) error {
	m.log.add("RelocateTest %s %s", name, destination)
	return m.relocateErr
}

func (m *mockOps) Relocate(ctx context.Context, name, destination string, opts instance.RelocateOptions) (string, error) {
	m.log.add("Relocate %s %s", name, destination)
	if err := m.failFor("Relocate"); err != nil {
		return "", err
	}
	return m.relocateResp, nil
}

func (m *mockOps) HostInventory(ctx context.Context, host string) ([]string, error) {
	m.log.add("HostInventory %s", host)
	if err := m.failFor("HostInventory"); err != nil {
		return nil, err
	}
	return m.inventory, nil
}

// mockFabric implements fabricController.
type mockFabric struct {
	log   *callLog
	fail  map[string]error
	bound bool
}

func (m *mockFabric) failFor(op string) error {
	if m.fail == nil {
		return nil
	}
	return m.fail[op]
}

func (m *mockFabric) BindPort(ctx context.Context, name, userID, vswitch string, b fabric.Binding) error {
	m.log.add("BindPort %s %s %s", name, b.PortID, b.Vdev)
	return m.failFor("BindPort")
}

func (m *mockFabric) NICBound(ctx context.Context, name, vdev, vswitch string) (bool, error) {
	m.log.add("NICBound %s %s", name, vdev)
	if err := m.failFor("NICBound"); err != nil {
		return false, err
	}
	return m.bound, nil
}

func (m *mockFabric) UnbindAll(ctx context.Context, name, userID string) error {
	m.log.add("UnbindAll %s", name)
	return m.failFor("UnbindAll")
}

func (m *mockFabric) RecordAddress(ctx context.Context, name, ip, hostname string) error {
	m.log.add("RecordAddress %s %s", name, ip)
	return m.failFor("RecordAddress")
}

func (m *mockFabric) ReGrantAll(ctx context.Context, vswitch string, userIDs []string) error {
	m.log.add("ReGrantAll %s %d", vswitch, len(userIDs))
	return m.failFor("ReGrantAll")
}

// mockImages implements imageRepository.
type mockImages struct {
	log    *callLog
	fail   map[string]error
	exists bool
}

func (m *mockImages) failFor(op string) error {
	if m.fail == nil {
		return nil
	}
	return m.fail[op]
}

func (m *mockImages) Exists(ctx context.Context, name string) (bool, error) {
	m.log.add("ImageExists %s", name)
	if err := m.failFor("Exists"); err != nil {
		return false, err
	}
	return m.exists, nil
}

func (m *mockImages) Import(ctx context.Context, name, source string) error {
	m.log.add("ImageImport %s %s", name, source)
	return m.failFor("Import")
}

func (m *mockImages) Export(ctx context.Context, name, destination string) error {
	m.log.add("ImageExport %s %s", name, destination)
	return m.failFor("Export")
}

func (m *mockImages) Capture(ctx context.Context, instanceName, imageName, vdev string) error {
	m.log.add("ImageCapture %s %s", instanceName, imageName)
	return m.failFor("Capture")
}

func (m *mockImages) Delete(ctx context.Context, name string) error {
	m.log.add("ImageDelete %s", name)
	return m.failFor("Delete")
}

func (m *mockImages) TouchLastUsed(ctx context.Context, name string) error {
	m.log.add("ImageTouch %s", name)
	return m.failFor("TouchLastUsed")
}

func (m *mockImages) EnsureSpace(ctx context.Context, neededGB float64) error {
	m.log.add("EnsureSpace %.0f", neededGB)
	return m.failFor("EnsureSpace")
}

// mockVolumes implements volumeManager.
type mockVolumes struct {
	log  *callLog
	fail map[string]error
}

func (m *mockVolumes) failFor(op string) error {
	if m.fail == nil {
		return nil
	}
	return m.fail[op]
}

func (m *mockVolumes) Attach(ctx context.Context, name string, conn volume.ConnectionInfo, mountpoint string, active bool) error {
	m.log.add("VolumeAttach %s %s", name, conn.LUN)
	return m.failFor("Attach")
}

func (m *mockVolumes) Detach(ctx context.Context, name string, conn volume.ConnectionInfo, mountpoint string, active bool) error {
	m.log.add("VolumeDetach %s %s", name, conn.LUN)
	return m.failFor("Detach")
}

// testHarness bundles an Orchestrator with its mocks.
type testHarness struct {
	orch    *Orchestrator
	log     *callLog
	ops     *mockOps
	fabric  *mockFabric
	images  *mockImages
	volumes *mockVolumes
	cfg     *config.Config
}

func newHarness() *testHarness {
	log := &callLog{}
	cfg := &config.Config{
		Gateway: config.GatewayConfig{
			URL:      "https://mgmt.example.com:8443/api",
			Username: "admin",
		},
		Host: config.HostConfig{Domain: "DOMAIN01", HCP: "hcp01.example.com"},
		Disk: config.DiskConfig{Pool: "POOL1"},
		User: config.UserConfig{Profile: "osdflt", Password: "dfltpass"},
		Network: config.NetworkConfig{
			Vswitch: "xcatvsw2",
		},
	}
	cfg.Normalize()
	// Keep test polling fast and bounded.
	cfg.Timeouts.PollIntervalSeconds = 0
	cfg.Timeouts.ReachableSeconds = 1

	h := &testHarness{
		log:     log,
		ops:     &mockOps{log: log, powerState: instance.PowerRunning, provMethod: "netboot", reachable: true, consoleOut: "console output"},
		fabric:  &mockFabric{log: log, bound: true},
		images:  &mockImages{log: log, exists: true},
		volumes: &mockVolumes{log: log},
		cfg:     cfg,
	}
	h.orch = New(cfg, h.ops, h.fabric, h.images, h.volumes, zap.NewNop().Sugar())
	return h
}

func testInstanceConfig() *config.InstanceConfig {
	c := &config.InstanceConfig{
		Name:       "vm1",
		VCPUs:      2,
		MemoryMiB:  2048,
		RootDiskGB: 5,
		Image:      "rhel7-img1",
		Networks: []config.NetworkInterfaceConfig{
			{IP: "10.20.30.40/24", Gateway: "10.20.30.1", PortID: "port-1"},
		},
	}
	c.Normalize()
	_ = c.CalculateMACs()
	return c
}
