// Package api holds the OpenAPI description of the router's HTTP surface.
package api

import _ "embed"

// OpenAPISpec is the raw OpenAPI 3 document in YAML
//
//go:embed openapi.yaml
var OpenAPISpec []byte
