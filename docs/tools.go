//go:build tools

package docs

// Pin the swag CLI used by go:generate so `go mod tidy` keeps it.
import _ "github.com/swaggo/swag"
