package ws

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// AuthMode selects how the handshake carries the session token.
type AuthMode string

const (
	// AuthQuery appends ?token=<token>; used by clients without a cookie jar.
	AuthQuery AuthMode = "query"
	// AuthCookie sends the token as the session cookie.
	AuthCookie AuthMode = "cookie"
)

// BuildURL returns the endpoint for one conversation:
// <base>/conversations/<id>, with the token as a query parameter in
// AuthQuery mode.
func BuildURL(base string, conversationID int64, mode AuthMode, token string) (string, error) {
	if conversationID <= 0 {
		return "", fmt.Errorf("invalid conversation id %d", conversationID)
	}
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("websocket url must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("websocket url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/conversations/" + strconv.FormatInt(conversationID, 10)
	u.RawPath = ""
	if mode == AuthQuery && token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func handshakeHeader(mode AuthMode, cookieName, token string) http.Header {
	header := http.Header{}
	if mode == AuthCookie && token != "" {
		cookie := &http.Cookie{Name: cookieName, Value: token}
		header.Set("Cookie", cookie.String())
	}
	return header
}
