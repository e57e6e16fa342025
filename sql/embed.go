// Package sql embeds the goose migrations for the identity-provider
// registry.
package sql

import "embed"

//go:embed *.sql
var FS embed.FS
