// Package output provides formatters for displaying instance and host
// records in various formats (table, YAML, JSON).
package output

import (
	"fmt"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format for declarative consumption.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// InstanceRecord is the display view of a managed instance.
type InstanceRecord struct {
	Name      string `json:"name" yaml:"name"`
	State     string `json:"state" yaml:"state"`
	VCPUs     int    `json:"vcpus,omitempty" yaml:"vcpus,omitempty"`
	MemoryMiB int    `json:"memoryMiB,omitempty" yaml:"memoryMiB,omitempty"`
	IP        string `json:"ip,omitempty" yaml:"ip,omitempty"`
}

// HostRecord is the display view of the hypervisor host.
type HostRecord struct {
	Architecture string `json:"architecture" yaml:"architecture"`
	CPUs         int    `json:"cpus" yaml:"cpus"`
	MemoryMiB    int    `json:"memoryMiB" yaml:"memoryMiB"`
	Hypervisor   string `json:"hypervisor" yaml:"hypervisor"`
}

// Formatter formats records for output.
type Formatter interface {
	// FormatInstance formats a single instance record.
	FormatInstance(rec *InstanceRecord) (string, error)

	// FormatInstanceList formats a list of instance records.
	FormatInstanceList(recs []*InstanceRecord) (string, error)

	// FormatHost formats a host capability record.
	FormatHost(rec *HostRecord) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
