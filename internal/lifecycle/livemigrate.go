package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/jbweber/crucible/internal/instance"
	"github.com/jbweber/crucible/internal/smapi"
)

// domainMismatchCode is the relocation facility's error code for a
// guest that fails the domain or architecture compatibility test.
// It is the only precheck failure the force setting may override.
const domainMismatchCode = "1944"

// MigrateCheck runs the relocation feasibility test for moving name to
// destination. A domain or architecture mismatch passes when the
// configured force setting covers it; every other rejection comes back
// as a MigrationPreCheckError.
func (o *Orchestrator) MigrateCheck(ctx context.Context, name, destination string) error {
	err := o.ops.RelocateTest(ctx, name, destination)
	if err == nil {
		return nil
	}

	if o.forceCoversDomainMismatch(err) {
		o.log.Infof("relocation test of %s reported a domain mismatch, overridden by force setting", name)
		return nil
	}

	return &MigrationPreCheckError{
		Instance:    name,
		Destination: destination,
		Reason:      err.Error(),
	}
}

// forceCoversDomainMismatch reports whether err is the domain or
// architecture mismatch rejection and the force setting overrides it.
func (o *Orchestrator) forceCoversDomainMismatch(err error) bool {
	var re *smapi.RequestError
	if !errors.As(err, &re) {
		return false
	}
	if !strings.Contains(re.Reason, domainMismatchCode) {
		return false
	}
	force := strings.ToLower(o.cfg.Relocation.Force)
	return strings.Contains(force, "domain") || strings.Contains(force, "architecture")
}

// MigrateOptions qualifies a live migration.
type MigrateOptions struct {
	// DestinationDomain is the managed domain of the target host. A
	// domain other than the local one makes this a cross-domain move,
	// which cleans up the source registration afterwards.
	DestinationDomain string

	// Recover is called after the relocation fails, before the error
	// returns, so the caller can restore scheduler state.
	Recover func(error)
}

// Migrate live-relocates name to destination. The guest keeps running
// throughout; on success of a cross-domain move the source-side
// registration and fabric bindings are removed.
func (o *Orchestrator) Migrate(ctx context.Context, name, destination string, opts MigrateOptions) error {
	if err := o.MigrateCheck(ctx, name, destination); err != nil {
		if opts.Recover != nil {
			opts.Recover(err)
		}
		return err
	}

	status, err := o.ops.Relocate(ctx, name, destination, instance.RelocateOptions{
		MaxTotal:   o.cfg.Relocation.MaxTotal,
		MaxQuiesce: o.cfg.Relocation.MaxQuiesce,
	})
	if err != nil {
		merr := &MigrationError{Instance: name, Destination: destination, Status: err.Error()}
		if opts.Recover != nil {
			opts.Recover(merr)
		}
		return merr
	}

	// The facility reports its terminal state in the last info record;
	// anything but Done means the guest never moved.
	if !strings.Contains(status, "Done") {
		merr := &MigrationError{Instance: name, Destination: destination, Status: status}
		if opts.Recover != nil {
			opts.Recover(merr)
		}
		return merr
	}

	o.log.Infof("instance %s relocated to %s", name, destination)

	crossDomain := opts.DestinationDomain != "" &&
		!strings.EqualFold(opts.DestinationDomain, o.cfg.Host.Domain)
	if crossDomain {
		if err := o.fabric.UnbindAll(ctx, name, strings.ToUpper(name)); err != nil {
			o.log.Warnf("Warning: %v", err)
		}
		if err := o.ops.Unregister(ctx, name); err != nil {
			o.log.Warnf("Warning: %v", err)
		}
		o.forgetState(name)
	}
	return nil
}
