package api

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// Login exchanges credentials for a session token. The backend answers with
// the token in a Set-Cookie header, which is returned for the caller to
// store.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	resp, err := c.send(ctx, request{
		method:    http.MethodPost,
		path:      "auth/login",
		route:     "auth/login",
		form:      map[string]string{"username": strings.TrimSpace(email), "password": password},
		anonymous: true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	for _, cookie := range resp.Cookies() {
		if cookie.Name == c.cookieName && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", ErrNoSessionCookie
}

// Logout ends the server-side session.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   "auth/logout",
		route:  "auth/logout",
	}, nil)
}
