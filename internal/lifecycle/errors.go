package lifecycle

import "fmt"

// ValidationError rejects a request before any remote state changes.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// MigrationPreCheckError means the relocation facility rejected a
// migration during its feasibility test and no override applied.
type MigrationPreCheckError struct {
	Instance    string
	Destination string
	Reason      string
}

func (e *MigrationPreCheckError) Error() string {
	return fmt.Sprintf("migration of %s to %s rejected by precheck: %s",
		e.Instance, e.Destination, e.Reason)
}

// MigrationError means a relocation was attempted and did not complete.
type MigrationError struct {
	Instance    string
	Destination string
	Status      string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration of %s to %s failed: %s",
		e.Instance, e.Destination, e.Status)
}
