// Package fabric manages network plumbing for instances: virtual
// switch access grants, coupling guest interfaces to switches, and the
// binding records that tie a fabric port to an instance.
package fabric
