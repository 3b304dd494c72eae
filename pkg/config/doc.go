// Package config loads YAML configuration files for the signage
// server daemon and the device agent.
//
// Durations are written as Go duration strings ("90s", "2m"). Fields
// left out of the file keep their zero value; consumers apply their
// own defaults, so a minimal file stays minimal.
package config
