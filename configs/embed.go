// Package configs embeds the configuration template written by
// `annworker config init`.
package configs

import _ "embed"

// UserConfigTemplate is the template for ~/.config/annworker/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
