package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats records as YAML.
type YAMLFormatter struct{}

// FormatInstance formats a single instance as YAML.
func (f *YAMLFormatter) FormatInstance(rec *InstanceRecord) (string, error) {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal instance to YAML: %w", err)
	}

	return string(data), nil
}

// FormatInstanceList formats a list of instances as YAML.
// Outputs as a YAML stream (multiple documents separated by ---).
func (f *YAMLFormatter) FormatInstanceList(recs []*InstanceRecord) (string, error) {
	if len(recs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer

	for i, rec := range recs {
		data, err := yaml.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("failed to marshal instance %s to YAML: %w", rec.Name, err)
		}

		// Document separator between records, not before the first.
		if i > 0 {
			buf.WriteString("---\n")
		}

		buf.Write(data)
	}

	return buf.String(), nil
}

// FormatHost formats a host capability record as YAML.
func (f *YAMLFormatter) FormatHost(rec *HostRecord) (string, error) {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal host record to YAML: %w", err)
	}

	return string(data), nil
}
