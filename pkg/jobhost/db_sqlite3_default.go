//go:build !sqlite3_cgo

package jobhost

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DriverID names the SQLite driver compiled in
const DriverID = "ncruces/go-sqlite3"

const driverName = "sqlite3"
