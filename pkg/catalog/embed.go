package catalog

import "embed"

// FS exposes the embedded catalog data (resource types, instance sizes,
// regions) for each provider. The root of this filesystem is the
// pkg/catalog directory.
//
//go:embed aws.json azure.json gcp.json
var FS embed.FS
