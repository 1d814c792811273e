package apidocs

import _ "embed"

// Spec is the OpenAPI document the dashboard validates API requests against.
//
//go:embed openapi.yaml
var Spec []byte
