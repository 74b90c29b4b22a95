//go:build sqlite_cgo

package sqlite

// Built with the sqlite_cgo tag the store links the C SQLite library.
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver registered for this build.
	DriverName = "sqlite3"
	// BuildMode describes the selected driver.
	BuildMode = "cgo"
)
