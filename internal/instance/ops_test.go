package instance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jbweber/crucible/internal/smapi"
	"github.com/jbweber/crucible/internal/workflow"
)

func testOptions() Options {
	return Options{
		HCP:         "hcp01.example.com",
		Group:       "all",
		DiskPool:    "POOL1",
		DiskType:    "ECKD",
		UserProfile: "osdflt",
		Password:    "dfltpass",
		Privilege:   "G",
		RootVdev:    "0100",
	}
}

func newTestOperations(mock *mockCaller) *Operations {
	o := NewOperations(mock, testOptions(), nil)
	o.lockWait = workflow.Poller{
		Interval:  time.Millisecond,
		Deadline:  50 * time.Millisecond,
		Transient: smapi.IsTransient,
	}
	return o
}

func TestRegisterSendsIdentity(t *testing.T) {
	mock := &mockCaller{}
	o := newTestOperations(mock)

	if err := o.Register(context.Background(), "vm1", "VM1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	call := mock.call(0)
	if call.Method != "POST" || call.Path != "/nodes/vm1" {
		t.Errorf("unexpected request: %s %s", call.Method, call.Path)
	}
	for _, want := range []string{"userid=VM1", "hcp=hcp01.example.com", "groups=all"} {
		if !hasRecord(call.Body, want) {
			t.Errorf("body missing %q: %v", want, call.Body)
		}
	}
}

func TestUnregisterToleratesMissingNode(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		return nil, &smapi.RequestError{Code: 404}
	}}
	o := newTestOperations(mock)

	if err := o.Unregister(context.Background(), "ghost"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCreateDefinition(t *testing.T) {
	mock := &mockCaller{}
	o := newTestOperations(mock)

	inst := &Instance{
		Name:       "vm1",
		UserID:     "VM1",
		VCPUs:      2,
		MemoryMiB:  2048,
		RootDiskGB: 5,
		Ephemeral:  []EphemeralDisk{{Vdev: "0101", Size: "1g", Format: "ext4"}},
	}
	if err := o.CreateDefinition(context.Background(), inst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// define, root disk, boot device, one ephemeral disk
	if mock.callCount() != 4 {
		t.Fatalf("expected 4 requests, got %d", mock.callCount())
	}

	define := mock.call(0)
	if define.Path != "/vms/vm1" {
		t.Errorf("unexpected define path: %s", define.Path)
	}
	for _, want := range []string{"cpus=2", "memory=2048m", "profile=osdflt", "privilege=G"} {
		if !hasRecord(define.Body, want) {
			t.Errorf("define body missing %q: %v", want, define.Body)
		}
	}

	root := mock.call(1)
	for _, want := range []string{"action=add3390", "vdev=0100", "size=5g", "pool=POOL1"} {
		if !hasRecord(root.Body, want) {
			t.Errorf("root disk body missing %q: %v", want, root.Body)
		}
	}

	boot := mock.call(2)
	if !hasRecord(boot.Body, "action=setipl") || !hasRecord(boot.Body, "vdev=0100") {
		t.Errorf("unexpected boot device body: %v", boot.Body)
	}

	eph := mock.call(3)
	for _, want := range []string{"vdev=0101", "size=1g", "format=ext4"} {
		if !hasRecord(eph.Body, want) {
			t.Errorf("ephemeral disk body missing %q: %v", want, eph.Body)
		}
	}
}

func TestAddDiskUsesFBAActionForFBAPools(t *testing.T) {
	mock := &mockCaller{}
	opts := testOptions()
	opts.DiskType = "FBA"
	o := NewOperations(mock, opts, nil)

	if err := o.AddDisk(context.Background(), "vm1", "0101", "1g", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasRecord(mock.call(0).Body, "action=add9336") {
		t.Errorf("expected add9336 action, got %v", mock.call(0).Body)
	}
}

func TestCopyRegistrationFiltersLocalAttributes(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		if method == "GET" {
			return &smapi.Response{Info: [][]string{{
				"Object name: vm1\n" +
					"    hcp=hcp01.example.com\n" +
					"    userid=VM1\n" +
					"    postscripts=syslog\n" +
					"    postbootscripts=otherpkgs\n" +
					"    hostnames=vm1.example.com",
			}}}, nil
		}
		return &smapi.Response{}, nil
	}}
	o := newTestOperations(mock)

	if err := o.CopyRegistration(context.Background(), "rszvm1", "vm1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	create := mock.call(1)
	if create.Method != "POST" || create.Path != "/nodes/rszvm1" {
		t.Errorf("unexpected request: %s %s", create.Method, create.Path)
	}
	if !hasRecord(create.Body, "hcp=hcp01.example.com") || !hasRecord(create.Body, "userid=VM1") {
		t.Errorf("copied body missing identity attributes: %v", create.Body)
	}
	for _, r := range create.Body {
		if strings.HasPrefix(r, "postscripts=") || strings.HasPrefix(r, "hostnames=") {
			t.Errorf("local attribute leaked into copy: %q", r)
		}
	}
}

func TestPowerOnToleratesAlreadyRunning(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		return nil, &smapi.RequestError{Code: 200, ReasonCode: 8, Reason: "already logged on"}
	}}
	o := newTestOperations(mock)

	if err := o.PowerOn(context.Background(), "vm1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPowerOffToleratesNotActive(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		return nil, &smapi.RequestError{Code: 200, ReasonCode: 12, Reason: "not active"}
	}}
	o := newTestOperations(mock)

	if err := o.PowerOff(context.Background(), "vm1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPowerPropagatesOtherFailures(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		return nil, &smapi.RequestError{Code: 400, ReasonCode: 8, Reason: "failed"}
	}}
	o := newTestOperations(mock)

	if err := o.PowerOn(context.Background(), "vm1"); err == nil {
		t.Error("expected error")
	}
	if err := o.Pause(context.Background(), "vm1"); err == nil {
		t.Error("expected error")
	}
}

func TestPowerStateParsesReport(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		return &smapi.Response{Info: [][]string{{"vm1: on"}}}, nil
	}}
	o := newTestOperations(mock)

	state, err := o.PowerState(context.Background(), "vm1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != PowerRunning {
		t.Errorf("expected running, got %s", state)
	}
}

func TestPowerStateAbsentWhenUndefined(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		return nil, &smapi.RequestError{Code: 400, ReasonCode: 4, Reason: "Could not find an object named vm1"}
	}}
	o := newTestOperations(mock)

	state, err := o.PowerState(context.Background(), "vm1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != PowerAbsent {
		t.Errorf("expected absent, got %s", state)
	}
}

func TestReachable(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"ssh up", "sshd", true},
		{"ping only", "ping", false},
		{"down", "noping", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
				return &smapi.Response{Node: [][]smapi.NodeStatus{{
					{Name: "vm1", Data: []string{tt.data}},
				}}}, nil
			}}
			o := newTestOperations(mock)

			got, err := o.Reachable(context.Background(), "vm1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDeleteMissingDefinitionUnregisters(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		if strings.HasPrefix(path, "/vms/") {
			return nil, &smapi.RequestError{Code: 400, ReasonCode: 4, Reason: "Could not find an object named vm1"}
		}
		return &smapi.Response{}, nil
	}}
	o := newTestOperations(mock)

	if err := o.Delete(context.Background(), "vm1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := mock.call(mock.callCount() - 1)
	if last.Method != "DELETE" || last.Path != "/nodes/vm1" {
		t.Errorf("expected registration removal, got %s %s", last.Method, last.Path)
	}
}

func TestDeleteWaitsForLock(t *testing.T) {
	deletes := 0
	lockQueries := 0
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		switch {
		case method == "DELETE" && path == "/vms/vm1":
			deletes++
			if deletes == 1 {
				return nil, &smapi.RequestError{Code: 400, ReasonCode: 12, Reason: "locked"}
			}
			return &smapi.Response{}, nil
		case path == "/vms/vm1/lock":
			lockQueries++
			if lockQueries < 3 {
				return &smapi.Response{Info: [][]string{{"vm1: Locked"}}}, nil
			}
			return &smapi.Response{Info: [][]string{{"vm1: Unlocked"}}}, nil
		}
		return &smapi.Response{}, nil
	}}
	o := newTestOperations(mock)

	if err := o.Delete(context.Background(), "vm1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deletes != 2 {
		t.Errorf("expected delete retry after lock cleared, got %d deletes", deletes)
	}
	if lockQueries < 3 {
		t.Errorf("expected repeated lock queries, got %d", lockQueries)
	}
}

func TestDeleteGivesUpWhenLockPersists(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		if method == "DELETE" && path == "/vms/vm1" {
			return nil, &smapi.RequestError{Code: 400, ReasonCode: 12, Reason: "locked"}
		}
		return &smapi.Response{Info: [][]string{{"vm1: Locked"}}}, nil
	}}
	o := newTestOperations(mock)

	err := o.Delete(context.Background(), "vm1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "locked") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestProvisioningMethodRoundTrip(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		if method == "GET" {
			return &smapi.Response{Data: [][]string{{"netboot"}}}, nil
		}
		return &smapi.Response{}, nil
	}}
	o := newTestOperations(mock)

	method, err := o.ProvisioningMethod(context.Background(), "vm1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != "netboot" {
		t.Errorf("expected netboot, got %q", method)
	}

	if err := o.SetProvisioningMethod(context.Background(), "vm1", "sysclone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set := mock.call(1)
	if set.Path != "/tables/nodetype" || !hasRecord(set.Body, "provmethod=sysclone") {
		t.Errorf("unexpected update: %s %v", set.Path, set.Body)
	}
}

func TestEphemeralDisksExcludesRoot(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		return &smapi.Response{Info: [][]string{{
			"USER VM1 PASS 2048M 2048M G\n" +
				"MDISK 0100 3390 0001 3338 POOL1 MR\n" +
				"MDISK 0101 3390 3339 1669 POOL1 MR\n" +
				"MDISK 0102 3390 5008 1669 POOL1 MR",
		}}}, nil
	}}
	o := newTestOperations(mock)

	disks, err := o.EphemeralDisks(context.Background(), "vm1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(disks) != 2 {
		t.Fatalf("expected 2 ephemeral disks, got %d", len(disks))
	}
	if disks[0].Vdev != "0101" || disks[0].Size != "1669" {
		t.Errorf("unexpected first disk: %+v", disks[0])
	}
	if disks[1].Vdev != "0102" {
		t.Errorf("unexpected second disk: %+v", disks[1])
	}
}

func TestDeployBody(t *testing.T) {
	mock := &mockCaller{}
	o := newTestOperations(mock)

	err := o.Deploy(context.Background(), "vm1", "rhel7-s390x-netboot-img001", DeployOptions{
		TransportFiles: "/var/lib/crucible/cfgdrive.iso",
		RemoteHost:     "repo.example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	call := mock.call(0)
	if call.Path != "/vms/vm1/deploy" {
		t.Errorf("unexpected path: %s", call.Path)
	}
	for _, want := range []string{
		"image=rhel7-s390x-netboot-img001",
		"device=0100",
		"transportfiles=/var/lib/crucible/cfgdrive.iso",
		"remotehost=repo.example.com",
	} {
		if !hasRecord(call.Body, want) {
			t.Errorf("body missing %q: %v", want, call.Body)
		}
	}
}

func TestUnregisterPropagatesRealFailures(t *testing.T) {
	mock := &mockCaller{handler: func(method, path string, body []string) (*smapi.Response, error) {
		return nil, errors.New("gateway exploded")
	}}
	o := newTestOperations(mock)

	if err := o.Unregister(context.Background(), "vm1"); err == nil {
		t.Error("expected error")
	}
}
