package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

// TableFormatter formats records as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatInstance formats a single instance as a table row.
func (f *TableFormatter) FormatInstance(rec *InstanceRecord) (string, error) {
	return f.FormatInstanceList([]*InstanceRecord{rec})
}

// FormatInstanceList formats a list of instances as a table.
func (f *TableFormatter) FormatInstanceList(recs []*InstanceRecord) (string, error) {
	if len(recs) == 0 {
		return "No instances found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSTATE\tVCPUs\tMEMORY\tIP")
	}

	for _, rec := range recs {
		state := rec.State
		if state == "" {
			state = "-"
		}
		ip := rec.IP
		if ip == "" {
			ip = "-"
		}
		vcpus := "-"
		if rec.VCPUs > 0 {
			vcpus = fmt.Sprintf("%d", rec.VCPUs)
		}
		memory := "-"
		if rec.MemoryMiB > 0 {
			memory = fmt.Sprintf("%d MiB", rec.MemoryMiB)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.Name, state, vcpus, memory, ip)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatHost formats host capabilities as key/value lines.
func (f *TableFormatter) FormatHost(rec *HostRecord) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "Architecture:\t%s\n", rec.Architecture)
	_, _ = fmt.Fprintf(w, "CPUs:\t%d\n", rec.CPUs)
	_, _ = fmt.Fprintf(w, "Memory:\t%d MiB\n", rec.MemoryMiB)
	_, _ = fmt.Fprintf(w, "Hypervisor:\t%s\n", rec.Hypervisor)

	_ = w.Flush()
	return buf.String(), nil
}
