// Package app wires the C1-C9 storage engine layers together into openable
// filesystems, the orchestration role the teacher's service.go plays for
// secret creation/consumption: no I/O of its own, just composing the ports
// each layer exposes. This file declares the small contracts a caller
// (cmd/cryfs) supplies; concrete adapters live in the lower layers.
package app

// PasswordSource supplies the password used to decrypt or create a
// filesystem's config blob. It is an injected function, not a direct
// terminal read, so cmd/cryfs and this package stay testable without a
// tty — password prompting itself is explicitly out of scope (spec.md §1).
type PasswordSource func() ([]byte, error)
