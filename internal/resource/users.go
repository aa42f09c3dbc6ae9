package resource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"arcadeops/admin-console/internal/apiclient"
)

type UserFilter struct {
	ListParams
	Search string
	Role   string
	Status string
}

func (f UserFilter) query() url.Values {
	q := url.Values{}
	f.ListParams.apply(q)
	setString(q, "search", f.Search)
	setString(q, "role", f.Role)
	setString(q, "status", f.Status)
	return q
}

type UserClient struct {
	api Dispatcher
}

func NewUserClient(api Dispatcher) (*UserClient, error) {
	if api == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &UserClient{api: api}, nil
}

func (c *UserClient) List(ctx context.Context, f UserFilter) (Page[User], error) {
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/admin/users", Query: f.query()})
	if err != nil {
		return Page[User]{}, err
	}
	return decodePage[User](payload, f.ListParams)
}

func (c *UserClient) Get(ctx context.Context, id string) (User, error) {
	path, err := entityPath("/admin/users", id)
	if err != nil {
		return User{}, err
	}
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return User{}, err
	}
	var u User
	if err := decodeData(payload, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (c *UserClient) Ban(ctx context.Context, id, reason string) error {
	path, err := entityPath("/admin/users", id, "ban")
	if err != nil {
		return err
	}
	body := map[string]string{}
	if r := strings.TrimSpace(reason); r != "" {
		body["reason"] = r
	}
	_, err = c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: path, JSON: body})
	return err
}

func (c *UserClient) Unban(ctx context.Context, id string) error {
	path, err := entityPath("/admin/users", id, "unban")
	if err != nil {
		return err
	}
	_, err = c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: path})
	return err
}

func (c *UserClient) Delete(ctx context.Context, id string) error {
	path, err := entityPath("/admin/users", id)
	if err != nil {
		return err
	}
	_, err = c.api.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: path})
	return err
}
