// Package migrations contains PocketBase Go migrations for the Portside
// collections.
//
// All migration files use init() to register with the PocketBase migration
// runner. The package must be blank-imported in main.go:
//
//	_ "github.com/portside-io/portside/backend/internal/migrations"
package migrations
