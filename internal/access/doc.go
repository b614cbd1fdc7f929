// Package access is the durable half of the device coordinator: users,
// devices, ownership links and telemetry history, stored in SQLite.
//
// Every operation that reads and then writes (claim, share, remove) runs in
// a single transaction through database.WithTx, so a concurrent caller can
// never observe or act on a half-applied change.
//
// Failures are reported as sentinel errors checkable with errors.Is:
// ErrAlreadyLinked, ErrAccessDenied, ErrTargetNotFound and ErrNotFound for
// domain outcomes, ErrStore for everything the database itself rejected.
package access
