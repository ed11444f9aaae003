// Package domain defines the core types of the offline conversion sync.
//
// Types in this package are pure value objects with no I/O. They are the
// shared language between the warehouse source, the mapper and uploader,
// the ad-platform client, the run stores and the HTTP layer.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
//   - Constants and enums belong here
package domain
