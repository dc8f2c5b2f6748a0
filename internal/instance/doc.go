// Package instance models a virtual machine in a management domain and
// implements the remote operations on it: registration, definition,
// disks, image deployment, power, and reachability.
//
// An Instance value exists only for the duration of one workflow
// invocation; nothing here persists it.
package instance
