package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type ctxRemoteAddrKey struct{}

// withRemoteAddr stashes the request's remote address on ctx so a
// collaborator.LocalCallerCheck consulted deeper in the call stack (the
// Orchestrator Facade's showWindow/hideWindow) can tell a loopback caller
// from a networked one without threading *http.Request through the core.
func withRemoteAddr(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, ctxRemoteAddrKey{}, r.RemoteAddr)
}

// RemoteCallerCheck implements collaborator.LocalCallerCheck against the
// remote address stashed by withRemoteAddr, treating loopback and
// unix-socket callers as local.
type RemoteCallerCheck struct{}

func (RemoteCallerCheck) IsLocal(ctx context.Context) bool {
	addr, _ := ctx.Value(ctxRemoteAddrKey{}).(string)
	if addr == "" {
		return false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" {
		return false
	}
	if strings.HasPrefix(host, "@") || strings.HasPrefix(addr, "/") {
		return true // unix domain socket peer
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
