// Package hooks registers PocketBase record hooks for the profile
// collections: cross-field validation the schema cannot express, plus a bus
// event for every profile change. The CRUD itself stays PocketBase-native.
package hooks

import (
	"fmt"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"github.com/portside-io/portside/backend/internal/events"
)

const defaultSSHPort = 22

// Register binds all record hooks. A nil bus disables event emission but
// keeps validation active.
func Register(app core.App, bus *events.Bus) {
	registerConnectionHooks(app, bus)
	registerProxyHooks(app, bus)
	registerAuthHooks(app, bus)
}

func registerConnectionHooks(app core.App, bus *events.Bus) {
	app.OnRecordCreateRequest("connections").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := validateConnection(e.Record); err != nil {
			return apis.NewBadRequestError(err.Error(), nil)
		}
		if err := e.Next(); err != nil {
			return err
		}
		emit(bus, events.ConnectionCreated, e, connectionDetails(e.Record))
		return nil
	})

	app.OnRecordUpdateRequest("connections").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := validateConnection(e.Record); err != nil {
			return apis.NewBadRequestError(err.Error(), nil)
		}
		if err := e.Next(); err != nil {
			return err
		}
		emit(bus, events.ConnectionUpdated, e, connectionDetails(e.Record))
		return nil
	})

	app.OnRecordDeleteRequest("connections").BindFunc(func(e *core.RecordRequestEvent) error {
		details := connectionDetails(e.Record) // capture before deletion
		if err := e.Next(); err != nil {
			return err
		}
		emit(bus, events.ConnectionDeleted, e, details)
		return nil
	})
}

func registerProxyHooks(app core.App, bus *events.Bus) {
	app.OnRecordCreateRequest("proxies").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := validateProxy(e.Record); err != nil {
			return apis.NewBadRequestError(err.Error(), nil)
		}
		if err := e.Next(); err != nil {
			return err
		}
		emit(bus, events.ProxyCreated, e, proxyDetails(e.Record))
		return nil
	})

	app.OnRecordUpdateRequest("proxies").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := validateProxy(e.Record); err != nil {
			return apis.NewBadRequestError(err.Error(), nil)
		}
		if err := e.Next(); err != nil {
			return err
		}
		emit(bus, events.ProxyUpdated, e, proxyDetails(e.Record))
		return nil
	})

	app.OnRecordDeleteRequest("proxies").BindFunc(func(e *core.RecordRequestEvent) error {
		details := proxyDetails(e.Record)
		if err := e.Next(); err != nil {
			return err
		}
		emit(bus, events.ProxyDeleted, e, details)
		return nil
	})
}

// registerAuthHooks emits a login event per password auth attempt, for both
// regular users and superusers.
func registerAuthHooks(app core.App, bus *events.Bus) {
	for _, col := range []string{"users", core.CollectionNameSuperusers} {
		app.OnRecordAuthWithPasswordRequest(col).BindFunc(func(e *core.RecordAuthWithPasswordRequestEvent) error {
			ip := e.RealIP()
			if err := e.Next(); err != nil {
				if bus != nil {
					bus.Emit(events.Event{
						Type:     events.LoginFailure,
						UserID:   "unknown",
						Username: e.Identity,
						IP:       ip,
						Details:  map[string]any{"reason": err.Error()},
					})
				}
				return err
			}
			if bus != nil {
				bus.Emit(events.Event{
					Type:     events.LoginSuccess,
					UserID:   e.Record.Id,
					Username: e.Record.GetString("email"),
					IP:       ip,
				})
			}
			return nil
		})
	}
}

// validateConnection enforces the cross-field rules the schema cannot: an
// ssh profile must name a reachable target and a credential. Enum and range
// checks (protocol, auth_type, port, conn_id) live on the collection schema.
func validateConnection(r *core.Record) error {
	if r.GetString("protocol") != "ssh" {
		return nil
	}
	if r.GetString("host") == "" {
		return fmt.Errorf("ssh connections require a host")
	}
	if r.GetInt("port") == 0 {
		r.Set("port", defaultSSHPort)
	}
	if r.GetString("username") == "" {
		return fmt.Errorf("ssh connections require a username")
	}
	switch r.GetString("auth_type") {
	case "password", "key":
	default:
		return fmt.Errorf("auth_type must be password or key for ssh connections")
	}
	if r.GetString("secret") == "" {
		return fmt.Errorf("ssh connections require a credential secret")
	}
	return nil
}

func validateProxy(r *core.Record) error {
	if r.GetString("password") != "" && r.GetString("username") == "" {
		return fmt.Errorf("proxy password requires a username")
	}
	return nil
}

func connectionDetails(r *core.Record) map[string]any {
	return map[string]any{
		"connectionId":   r.GetInt("conn_id"),
		"connectionName": r.GetString("name"),
	}
}

func proxyDetails(r *core.Record) map[string]any {
	return map[string]any{
		"proxyName": r.GetString("name"),
		"proxyType": r.GetString("type"),
	}
}

func emit(bus *events.Bus, typ events.Type, e *core.RecordRequestEvent, details map[string]any) {
	if bus == nil {
		return
	}
	evt := events.Event{Type: typ, IP: e.RealIP(), Details: details}
	if e.Auth != nil {
		evt.UserID = e.Auth.Id
		evt.Username = e.Auth.GetString("email")
	}
	bus.Emit(evt)
}
