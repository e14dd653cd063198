// Package schemas embeds the JSON schemas of the configuration files.
package schemas

import _ "embed"

// PipelineSchema is the JSON schema of pipeline.yaml.
//
//go:embed pipeline.schema.json
var PipelineSchema []byte
