// Package smapi implements the client for the system-management REST
// gateway that fronts a management domain. All remote mutation and query
// traffic goes through the Caller interface defined here.
//
// The gateway speaks a narrow REST dialect: every call is a method plus
// a resource path plus an optional list of "key=value" body records, and
// every response is a structured document of string tables. Higher level
// packages never touch HTTP directly; they depend on Caller so tests can
// substitute a mock.
package smapi
