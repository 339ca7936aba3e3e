// Package configs embeds the configuration templates written by
// `searchme config init`.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .searchme.yaml in an indexed root by
// `searchme config init --project`. Every setting is commented out so the
// file changes nothing until edited.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
