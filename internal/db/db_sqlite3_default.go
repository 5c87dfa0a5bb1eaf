//go:build !sqlite3_cgo

package db

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"

	// applied by the driver on every new connection
	connParams = "_txlock=immediate&mode=rwc&_pragma=busy_timeout(5000)"
)
