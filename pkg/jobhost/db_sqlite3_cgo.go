//go:build cgo && sqlite3_cgo

package jobhost

import (
	_ "github.com/mattn/go-sqlite3"
)

// DriverID names the SQLite driver compiled in
const DriverID = "mattn/go-sqlite3"

const driverName = "sqlite3"
