package migrations

import (
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"github.com/portside-io/portside/backend/internal/settings"
)

// Seed the terminal poll intervals.
//
// Insert-if-not-exists: when the row is already present (the admin has
// customised it) the migration does nothing. The down() is a no-op — seed
// data is never rolled back.
func init() {
	m.Register(func(app core.App) error {
		_, err := app.FindFirstRecordByFilter(
			"app_settings",
			"module = {:module} && key = {:key}",
			dbx.Params{"module": "terminal", "key": "intervals"},
		)
		if err == nil {
			return nil // row already present
		}

		return settings.SetGroup(app, "terminal", "intervals", map[string]any{
			"statusIntervalSeconds":       1,
			"dockerStatusIntervalSeconds": 2,
		})
	}, func(app core.App) error {
		return nil
	})
}
