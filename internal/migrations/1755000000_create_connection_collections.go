package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Create the connection profile collections.
//
// Collections are created in dependency order:
//  1. secrets     (no deps)
//  2. proxies     (no deps)
//  3. connections (→ secrets, proxies)
//
// secrets is locked to superusers entirely: ciphertext never leaves the
// server through the record API, and the backend reads it only inside the
// profile resolver.
func init() {
	m.Register(func(app core.App) error {
		authed := types.Pointer("@request.auth.id != ''")

		// ─── 1. secrets ──────────────────────────────────────
		secrets := core.NewBaseCollection("secrets")
		secrets.ListRule = nil // superuser only
		secrets.ViewRule = nil
		secrets.CreateRule = nil
		secrets.UpdateRule = nil
		secrets.DeleteRule = nil

		secrets.Fields.Add(&core.TextField{
			Name:     "name",
			Required: true,
			Max:      200,
		})
		secrets.Fields.Add(&core.TextField{
			Name:     "value",
			Required: true,
			Hidden:   true, // AES-256-GCM hex ciphertext
		})
		secrets.Fields.Add(&core.TextField{
			Name:   "passphrase",
			Hidden: true, // encrypted key passphrase, key-auth only
		})
		secrets.AddIndex("idx_secrets_name", true, "name", "")

		if err := app.Save(secrets); err != nil {
			return err
		}

		// ─── 2. proxies ──────────────────────────────────────
		proxies := core.NewBaseCollection("proxies")
		proxies.ListRule = authed
		proxies.ViewRule = authed
		proxies.CreateRule = authed
		proxies.UpdateRule = authed
		proxies.DeleteRule = authed

		proxies.Fields.Add(&core.TextField{
			Name:     "name",
			Required: true,
			Max:      200,
		})
		proxies.Fields.Add(&core.SelectField{
			Name:      "type",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"socks5", "http"},
		})
		proxies.Fields.Add(&core.TextField{
			Name:     "host",
			Required: true,
		})
		proxies.Fields.Add(&core.NumberField{
			Name:    "port",
			OnlyInt: true,
			Min:     types.Pointer(1.0),
			Max:     types.Pointer(65535.0),
		})
		proxies.Fields.Add(&core.TextField{
			Name: "username",
		})
		proxies.Fields.Add(&core.TextField{
			Name:   "password",
			Hidden: true, // encrypted
		})
		proxies.AddIndex("idx_proxies_name", true, "name", "")

		if err := app.Save(proxies); err != nil {
			return err
		}

		// ─── 3. connections ──────────────────────────────────
		connections := core.NewBaseCollection("connections")
		connections.ListRule = authed
		connections.ViewRule = authed
		connections.CreateRule = authed
		connections.UpdateRule = authed
		connections.DeleteRule = authed

		connections.Fields.Add(&core.NumberField{
			Name:     "conn_id",
			Required: true,
			OnlyInt:  true,
			Min:      types.Pointer(0.0),
		})
		connections.Fields.Add(&core.TextField{
			Name:     "name",
			Required: true,
			Max:      200,
		})
		connections.Fields.Add(&core.SelectField{
			Name:      "protocol",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"ssh", "local"},
		})
		connections.Fields.Add(&core.TextField{
			Name: "host",
		})
		connections.Fields.Add(&core.NumberField{
			Name:    "port",
			OnlyInt: true,
			Min:     types.Pointer(1.0),
			Max:     types.Pointer(65535.0),
		})
		connections.Fields.Add(&core.TextField{
			Name: "username",
		})
		connections.Fields.Add(&core.SelectField{
			Name:      "auth_type",
			MaxSelect: 1,
			Values:    []string{"password", "key"},
		})
		connections.Fields.Add(&core.RelationField{
			Name:         "secret",
			CollectionId: secrets.Id,
			MaxSelect:    1,
		})
		connections.Fields.Add(&core.RelationField{
			Name:         "proxy",
			CollectionId: proxies.Id,
			MaxSelect:    1,
		})
		connections.Fields.Add(&core.TextField{
			Name: "shell", // optional shell override for the PTY
		})
		connections.AddIndex("idx_connections_conn_id", true, "conn_id", "")
		connections.AddIndex("idx_connections_name", false, "name", "")

		return app.Save(connections)
	}, func(app core.App) error {
		for _, name := range []string{"connections", "proxies", "secrets"} {
			col, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				continue // already gone
			}
			if err := app.Delete(col); err != nil {
				return err
			}
		}
		return nil
	})
}
