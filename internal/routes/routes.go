// Package routes mounts the backend's custom HTTP surface: the multiplexed
// terminal channel and the RDP tunnel, both WebSocket endpoints.
//
// Profile and settings CRUD is plain PocketBase record CRUD and needs no
// custom routes; the connections/proxies/secrets collections are read here
// only through the profile Store.
package routes

import (
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"github.com/portside-io/portside/backend/internal/gateway"
)

// Deps carries the long-lived services requests are handed to.
type Deps struct {
	Gateway *gateway.Gateway

	// RDPUpstream is the base ws:// URL of the RDP gateway service.
	RDPUpstream string
}

// Register mounts all custom route groups on the PocketBase router.
func Register(se *core.ServeEvent, deps Deps) {
	g := se.Router.Group("/api/ext")
	g.Bind(wsTokenAuth())
	g.Bind(apis.RequireAuth())

	registerTerminalRoutes(g, deps.Gateway)
	registerRDPRoutes(g, deps.RDPUpstream)
}
