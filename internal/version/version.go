// Package version exposes build version metadata.
package version

// Version is overridden at build time via -ldflags.
var Version = "1.0.0"
