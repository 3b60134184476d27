package routes

import (
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"

	"github.com/portside-io/portside/backend/internal/tunnel"
)

// registerRDPRoutes mounts the RDP relay. Parameter validation and close
// codes are the proxy's business; auth is enforced by the parent group, with
// the same ?token= JWT the upstream gateway revalidates.
func registerRDPRoutes(g *router.RouterGroup[*core.RequestEvent], upstream string) {
	proxy := tunnel.NewProxy(upstream)
	r := g.Group("/rdp")
	r.GET("/tunnel", func(e *core.RequestEvent) error {
		proxy.ServeHTTP(e.Response, e.Request)
		return nil
	})
}
