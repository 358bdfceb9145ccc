package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storeops/picking-service/internal/domain"
	"github.com/storeops/picking-service/pkg/logging"
	"github.com/storeops/picking-service/pkg/resilience"
)

// Config holds the identity service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements domain.UserDirectory against the identity service.
type Client struct {
	config  Config
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *logging.Logger
}

func NewClient(config Config, breaker *resilience.CircuitBreaker, logger *logging.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: breaker,
		logger:  logger.WithComponent("identity-client"),
	}
}

type userResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// FindUser looks up a user by ID. Unknown users return (nil, nil); errors
// are reserved for transport and server failures.
func (c *Client) FindUser(ctx context.Context, userID string) (*domain.User, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/users/%s", c.config.BaseURL, userID), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.config.APIKey != "" {
			req.Header.Set("X-API-Key", c.config.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("identity service request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return (*domain.User)(nil), nil
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("identity service returned %d: %s", resp.StatusCode, string(data))
		}

		var user userResponse
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return nil, fmt.Errorf("decoding identity response: %w", err)
		}
		return &domain.User{
			ID:     user.ID,
			Name:   user.Name,
			Role:   user.Role,
			Active: user.Active,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	user, _ := result.(*domain.User)
	return user, nil
}
