package listapi

import (
	"context"
	"fmt"
	"net/http"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Session is what the auth endpoints hand back on success.
type Session struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	payload := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, c.timeouts.Write, http.MethodPost, "/auth/login", payload, &out); err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, username, email, password string) (Session, error) {
	var out Session
	payload := map[string]string{"username": username, "email": email, "password": password}
	if err := c.doJSON(ctx, c.timeouts.Write, http.MethodPost, "/auth/register", payload, &out); err != nil {
		return Session{}, fmt.Errorf("register: %w", err)
	}
	return out, nil
}

// Logout revokes every token issued to the signed-in user.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, c.timeouts.Write, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
