package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jbweber/crucible/internal/instance"
)

// resizeAliasPrefix marks the registration copy that preserves a
// source instance while its resized replacement is built. The alias
// stays until the resize is confirmed or reverted.
const resizeAliasPrefix = "rsz"

// resizeAlias returns the registration name holding name's
// pre-resize state.
func resizeAlias(name string) string {
	return resizeAliasPrefix + name
}

// MigrationContext is the record a resize source hands to the finish
// phase. It is serialized as a flat JSON document so it can travel
// through any scheduler or queue between hosts.
type MigrationContext struct {
	// DiskType is the source disk geometry; the target must match.
	DiskType string `json:"disk_type"`

	// SourceDomain is the managed domain the instance came from.
	// Matching the target's domain selects the same-domain fast path.
	SourceDomain string `json:"disk_source_mn"`

	// SourceBundle locates the exported image bundle for cross-domain
	// moves. Empty for same-domain moves, where the captured image is
	// already in the shared repository.
	SourceBundle string `json:"disk_source_image"`

	// ImageName is the captured root image in the repository.
	ImageName string `json:"disk_image_name"`

	// Owner is the instance the context belongs to.
	Owner string `json:"disk_owner"`

	// SourceVCPUs, SourceMemoryMiB, and SourceRootGB preserve the
	// pre-resize definition shape so a failed finish can rebuild the
	// source exactly as it was.
	SourceVCPUs     int `json:"source_vcpus"`
	SourceMemoryMiB int `json:"source_memory_mib"`
	SourceRootGB    int `json:"source_root_gb"`

	// EphSizeOldGB and EphSizeNewGB carry the requested ephemeral
	// resize, per disk.
	EphSizeOldGB int `json:"disk_eph_size_old"`
	EphSizeNewGB int `json:"disk_eph_size_new"`

	// EphDisks is the source's ephemeral disk layout in gateway
	// units.
	EphDisks []instance.EphemeralDisk `json:"eph_disk_info"`
}

// SameDomain reports whether the context describes a move inside
// localDomain. Same-domain moves reuse the preserved registration and
// skip the bundle transfer.
func (m *MigrationContext) SameDomain(localDomain string) bool {
	return strings.EqualFold(m.SourceDomain, localDomain)
}

// Encode serializes the context for transport.
func (m *MigrationContext) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode migration context: %w", err)
	}
	return data, nil
}

// DecodeMigrationContext deserializes a context produced by Encode.
func DecodeMigrationContext(data []byte) (*MigrationContext, error) {
	var m MigrationContext
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode migration context: %w", err)
	}
	if m.Owner == "" {
		return nil, fmt.Errorf("migration context carries no owner")
	}
	return &m, nil
}
