// Package static provides the embedded dashboard assets
package static

import "embed"

// FS contains the dashboard build under build/
//
//go:embed all:build/*
var FS embed.FS
