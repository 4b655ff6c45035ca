package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originPolicy decides which browser origins may open a WebSocket. It is
// built once from Config.AllowedOrigins.
type originPolicy struct {
	allowAny bool
	origins  map[string]struct{}
	logger   *zap.Logger
}

// newOriginPolicy canonicalizes the configured origins. "*" admits any
// well-formed origin; blank and malformed entries are skipped with a warning.
func newOriginPolicy(configured []string, logger *zap.Logger) *originPolicy {
	p := &originPolicy{
		origins: make(map[string]struct{}, len(configured)),
		logger:  logger,
	}
	for _, entry := range configured {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			p.allowAny = true
			continue
		}
		origin, ok := canonicalOrigin(entry)
		if !ok {
			logger.Warn("Ignoring invalid origin in configuration", zap.String("origin", entry))
			continue
		}
		p.origins[origin] = struct{}{}
	}
	return p
}

// canonicalOrigin reduces an origin to lower-case scheme://host, dropping any
// path. Values without both a scheme and a host are rejected.
func canonicalOrigin(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// admits reports whether origin may connect. A request without an Origin
// header is never admitted.
func (p *originPolicy) admits(origin string) bool {
	if origin == "" {
		return false
	}
	canonical, ok := canonicalOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAny {
		return true
	}
	_, ok = p.origins[canonical]
	return ok
}

// check is the websocket.Upgrader CheckOrigin hook.
func (p *originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.admits(origin) {
		return true
	}
	p.logger.Warn("Blocked WebSocket connection from disallowed origin", zap.String("origin", origin))
	return false
}
