package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jbweber/crucible/internal/config"
)

func TestSpawnHappyPath(t *testing.T) {
	h := newHarness()

	if err := h.orch.Spawn(context.Background(), testInstanceConfig(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order := []string{
		"Register vm1 VM1",
		"CreateDefinition vm1",
		"BindPort vm1 port-1 1000",
		"RecordAddress vm1 10.20.30.40",
		"Deploy vm1 rhel7-img1",
		"NICBound vm1 1000",
		"PowerOn vm1",
		"Reachable vm1",
	}
	last := -1
	for _, call := range order {
		idx := h.log.indexOf(call)
		if idx < 0 {
			t.Fatalf("missing call %q in %v", call, h.log.all())
		}
		if idx < last {
			t.Errorf("call %q out of order in %v", call, h.log.all())
		}
		last = idx
	}

	if !h.log.contains("ImageTouch rhel7-img1") {
		t.Error("expected image last-used refresh after spawn")
	}
	if h.log.contains("Unregister vm1") || h.log.contains("Delete vm1") {
		t.Error("no teardown expected on success")
	}
}

func TestSpawnRejectsUnknownImage(t *testing.T) {
	h := newHarness()
	h.images.exists = false

	err := h.orch.Spawn(context.Background(), testInstanceConfig(), nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if h.log.contains("Register vm1 VM1") {
		t.Error("no remote changes expected for a rejected request")
	}
}

func TestSpawnUnwindsOnBindFailure(t *testing.T) {
	h := newHarness()
	h.fabric.fail = map[string]error{"BindPort": errors.New("switch unavailable")}

	err := h.orch.Spawn(context.Background(), testInstanceConfig(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "spawn of instance vm1 failed") {
		t.Errorf("unexpected error text: %v", err)
	}

	// Registration and definition existed before the failing step and
	// must both be torn down, newest first.
	delIdx := h.log.indexOf("Delete vm1")
	unregIdx := h.log.indexOf("Unregister vm1")
	if delIdx < 0 || unregIdx < 0 {
		t.Fatalf("expected definition and registration teardown, got %v", h.log.all())
	}
	if delIdx > unregIdx {
		t.Error("expected definition removed before registration")
	}
	if h.log.contains("PowerOn vm1") {
		t.Error("later steps must not run after a failure")
	}
}

func TestSpawnUnwindsEverythingOnPowerOnFailure(t *testing.T) {
	h := newHarness()
	h.ops.fail = map[string]error{"PowerOn": errors.New("logon failed")}

	err := h.orch.Spawn(context.Background(), testInstanceConfig(), nil)
	if err == nil {
		t.Fatal("expected error")
	}

	for _, call := range []string{"UnbindAll vm1", "Delete vm1", "Unregister vm1"} {
		if !h.log.contains(call) {
			t.Errorf("missing teardown call %q in %v", call, h.log.all())
		}
	}
}

func TestSpawnUnwindsWhenDeviceNeverBinds(t *testing.T) {
	h := newHarness()
	h.cfg.Timeouts.PollIntervalSeconds = 1
	h.fabric.bound = false

	err := h.orch.Spawn(context.Background(), testInstanceConfig(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "did not bind") {
		t.Errorf("unexpected error text: %v", err)
	}

	for _, call := range []string{"UnbindAll vm1", "Delete vm1", "Unregister vm1"} {
		if !h.log.contains(call) {
			t.Errorf("missing teardown call %q in %v", call, h.log.all())
		}
	}
	if h.log.contains("PowerOn vm1") {
		t.Error("later steps must not run after a failure")
	}
}

func TestSpawnAttachesVolumes(t *testing.T) {
	h := newHarness()
	vols := []VolumeAttachment{{Mountpoint: "/dev/sdb"}}

	if err := h.orch.Spawn(context.Background(), testInstanceConfig(), vols); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.log.contains("VolumeAttach vm1 ") {
		t.Errorf("expected volume attach, got %v", h.log.all())
	}
}

func TestNetworkCommands(t *testing.T) {
	h := newHarness()
	h.cfg.Network.DNSServers = []string{"10.0.0.53"}
	req := testInstanceConfig()

	inst, err := h.orch.buildInstance(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmds := h.orch.networkCommands(req, inst.NICs)
	for _, want := range []string{
		"ifcfg-enc1000",
		"IPADDR=10.20.30.40",
		"NETMASK=255.255.255.0",
		"GATEWAY=10.20.30.1",
		"SUBCHANNELS=0.0.1000,0.0.1001,0.0.1002",
		"nameserver 10.0.0.53",
	} {
		if !strings.Contains(cmds, want) {
			t.Errorf("commands missing %q:\n%s", want, cmds)
		}
	}
}

func TestBuildInstanceAllocatesAddresses(t *testing.T) {
	h := newHarness()
	req := testInstanceConfig()
	req.Networks = append(req.Networks,
		config.NetworkInterfaceConfig{IP: "10.20.30.41/24", Gateway: "10.20.30.1", PortID: "port-2"},
		config.NetworkInterfaceConfig{IP: "10.20.30.42/24", Gateway: "10.20.30.1", PortID: "port-3"},
	)
	req.EphemeralDisks = []config.EphemeralDiskConfig{{SizeGB: 1}, {SizeGB: 2, Format: "ext4"}}

	inst, err := h.orch.buildInstance(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nicVdevs := []string{inst.NICs[0].Vdev, inst.NICs[1].Vdev, inst.NICs[2].Vdev}
	if nicVdevs[0] != "1000" || nicVdevs[1] != "1003" || nicVdevs[2] != "1006" {
		t.Errorf("unexpected nic addresses: %v", nicVdevs)
	}
	if inst.Ephemeral[0].Vdev != "101" || inst.Ephemeral[1].Vdev != "102" {
		t.Errorf("unexpected ephemeral addresses: %+v", inst.Ephemeral)
	}
	if inst.Ephemeral[1].Size != "2g" || inst.Ephemeral[1].Format != "ext4" {
		t.Errorf("unexpected ephemeral disk: %+v", inst.Ephemeral[1])
	}
}
