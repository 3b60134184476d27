package routes

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/hook"
	"github.com/pocketbase/pocketbase/tools/router"

	"github.com/portside-io/portside/backend/internal/gateway"
)

var wsUpgrader = websocket.Upgrader{
	// CheckOrigin allows all origins. Authentication is enforced via JWT,
	// so a permissive CORS policy is acceptable for this single-server
	// deployment. Review before multi-tenant exposure.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTokenAuth authenticates WebSocket upgrade requests using a "token" query
// parameter. Browsers cannot set custom headers on WS upgrades, so the
// frontend sends the JWT as ?token=. PocketBase's global loadAuthToken
// middleware runs before route-level Bind, so the auth record is resolved
// here rather than by rewriting the header.
func wsTokenAuth() *hook.Handler[*core.RequestEvent] {
	return &hook.Handler[*core.RequestEvent]{
		Id: "wsTokenAuth",
		// Must run AFTER loadAuthToken (-1020) but BEFORE RequireAuth (0).
		// Without this, RequireAuth from the parent /api/ext group rejects
		// the request before wsTokenAuth gets a chance to set e.Auth.
		Priority: -1019,
		Func: func(e *core.RequestEvent) error {
			if e.Auth != nil {
				return e.Next() // already authenticated via header/cookie
			}
			tok := e.Request.URL.Query().Get("token")
			if tok == "" {
				return e.Next()
			}
			record, err := e.App.FindAuthRecordByToken(tok, core.TokenTypeAuth)
			if err == nil && record != nil {
				e.Auth = record
			}
			return e.Next()
		},
	}
}

func registerTerminalRoutes(g *router.RouterGroup[*core.RequestEvent], gw *gateway.Gateway) {
	t := g.Group("/terminal")
	t.GET("/channel", handleChannel(gw))
}

// handleChannel upgrades the request and hands the socket to the gateway for
// the rest of the client's visit. The handler blocks until the channel dies,
// which keeps the request context alive for everything the client starts.
func handleChannel(gw *gateway.Gateway) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		conn, err := wsUpgrader.Upgrade(e.Response, e.Request, nil)
		if err != nil {
			return nil // Upgrade already wrote the response
		}
		userID, username, ip := clientInfo(e)
		gw.ServeClient(e.Request.Context(), gateway.NewClient(conn, userID, username, ip))
		return nil
	}
}

func clientInfo(e *core.RequestEvent) (userID, username, ip string) {
	ip = gateway.ClientIP(e.Request)
	if e.Auth != nil {
		userID = e.Auth.Id
		username = e.Auth.GetString("email")
		if username == "" {
			username = e.Auth.GetString("name")
		}
	}
	return userID, username, ip
}
