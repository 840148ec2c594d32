package drive

import (
	"context"
	"fmt"
	"net/http"
)

// WhoAmI returns the signed-in account from the userinfo endpoint.
func (c *Client) WhoAmI(ctx context.Context) (User, error) {
	req := request{
		method: http.MethodGet,
		url:    c.userInfoURL,
		path:   "/userinfo",
	}

	var u User
	if err := c.doJSON(ctx, req, &u); err != nil {
		return User{}, fmt.Errorf("drive: fetching user info: %w", err)
	}

	return u, nil
}
