//go:build !sqlite_cgo

package sqlite

// Default build: pure Go SQLite, no C toolchain required.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver registered for this build.
	DriverName = "sqlite"
	// BuildMode describes the selected driver.
	BuildMode = "purego"
)
