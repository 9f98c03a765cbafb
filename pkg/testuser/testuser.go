// Package testuser provisions and removes Graph API test accounts for an
// application.
//
// Test users are created under {app-id}/accounts/test-users with an
// application access token and deleted through their own id.
package testuser

import (
	"context"
	"fmt"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/Sternrassler/graph-client/pkg/client"
	"github.com/Sternrassler/graph-client/pkg/logging"
	"github.com/rs/zerolog"
)

// User is a test account as returned by the Graph API.
type User struct {
	ID          string `json:"id"`
	AccessToken string `json:"access_token"`
	LoginURL    string `json:"login_url"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"password,omitempty"`
}

// Manager creates and deletes test users for one application.
type Manager struct {
	client *client.Client
	appID  string
	logger zerolog.Logger
}

// New creates a Manager. The client must carry an application access token.
func New(c *client.Client, appID string) (*Manager, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if appID == "" {
		return nil, fmt.Errorf("app id is required")
	}

	return &Manager{
		client: c,
		appID:  appID,
		logger: logging.NewLogger("testuser"),
	}, nil
}

// CreateUser creates a test user. Params are passed through, e.g.
// installed, permissions or name.
func (m *Manager) CreateUser(ctx context.Context, params client.Params, opts ...client.CallOption) (*User, error) {
	resp, err := m.client.Post(ctx, m.appID+"/accounts/test-users", params, opts...)
	if err != nil {
		return nil, fmt.Errorf("create test user: %w", err)
	}

	fields, ok := resp.Body.(map[string]any)
	if !ok {
		return nil, apierr.Remote(fmt.Sprintf("unexpected test user response: %s", resp.Raw), 0)
	}
	user := userFromFields(fields)
	if user.ID == "" {
		return nil, apierr.Remote("test user response has no id", 0)
	}

	m.logger.Debug().
		Str("app_id", m.appID).
		Str("user_id", user.ID).
		Msg("Test user created")

	return user, nil
}

// DeleteUser deletes a test user.
func (m *Manager) DeleteUser(ctx context.Context, user *User, opts ...client.CallOption) error {
	if user == nil || user.ID == "" {
		return apierr.Usage("test user id is required")
	}

	resp, err := m.client.Delete(ctx, user.ID, nil, opts...)
	if err != nil {
		return fmt.Errorf("delete test user %s: %w", user.ID, err)
	}
	if ok, isBool := resp.Body.(bool); isBool && !ok {
		return apierr.Remote(fmt.Sprintf("test user %s was not deleted", user.ID), 0)
	}

	m.logger.Debug().
		Str("app_id", m.appID).
		Str("user_id", user.ID).
		Msg("Test user deleted")

	return nil
}

// ListUsers returns all test users of the application, following pages.
func (m *Manager) ListUsers(ctx context.Context, opts ...client.CallOption) ([]User, error) {
	pager := m.client.GetPages(m.appID+"/accounts/test-users", nil, opts...)

	var users []User
	for pager.Next(ctx) {
		entries, _ := pager.Page().([]any)
		for _, entry := range entries {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			users = append(users, *userFromFields(fields))
		}
	}
	if err := pager.Err(); err != nil {
		return users, fmt.Errorf("list test users: %w", err)
	}

	return users, nil
}

func userFromFields(fields map[string]any) *User {
	return &User{
		ID:          stringField(fields, "id"),
		AccessToken: stringField(fields, "access_token"),
		LoginURL:    stringField(fields, "login_url"),
		Email:       stringField(fields, "email"),
		Password:    stringField(fields, "password"),
	}
}

// stringField renders a string or numeric field as text. Ids may arrive as
// either.
func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
