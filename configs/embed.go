// Package configs embeds the configuration template shipped with the
// binary. `cindex config init` writes it to the user config path so every
// install, source or release, carries the same annotated starting point.
//
// The effective configuration layers defaults, the user config file, an
// explicit --config file, then environment variables; see
// internal/config.Load.
package configs

import _ "embed"

// ConfigTemplate is the annotated user configuration template.
//
//go:embed config.example.yaml
var ConfigTemplate string
