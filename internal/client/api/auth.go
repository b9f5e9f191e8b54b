package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/atinyakov/buildsite/internal/models"
)

// LoginResponse is the payload of a successful login.
type LoginResponse struct {
	User    *models.User
	Token   string
	Message string
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (*LoginResponse, error) {
	body, err := jsonBody(creds)
	if err != nil {
		return nil, err
	}
	var data struct {
		User  *models.User `json:"user"`
		Token string       `json:"token"`
	}
	msg, err := c.do(ctx, request{
		method:       http.MethodPost,
		path:         "/auth/login",
		body:         body,
		contentType:  "application/json",
		authEndpoint: true,
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.User == nil || data.Token == "" {
		return nil, errors.New("invalid response: missing user or token")
	}
	return &LoginResponse{User: data.User, Token: data.Token, Message: msg}, nil
}

// Logout invalidates the current token on the server.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, request{
		method:       http.MethodPost,
		path:         "/auth/logout",
		authEndpoint: true,
	}, nil)
	return err
}

// Me returns the user owning the current token.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var data struct {
		User *models.User `json:"user"`
	}
	if _, err := c.do(ctx, request{
		method:       http.MethodGet,
		path:         "/auth/me",
		authEndpoint: true,
	}, &data); err != nil {
		return nil, err
	}
	if data.User == nil {
		return nil, errors.New("invalid response: missing user")
	}
	return data.User, nil
}
