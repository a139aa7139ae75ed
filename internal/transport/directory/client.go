package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"progress/internal/application/entity"
	"progress/pkg/cache"
	"progress/pkg/config"
	"progress/pkg/httpclient"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// ContactPoint — подтверждённый адрес доставки учащегося в одном канале.
type ContactPoint struct {
	Channel   entity.Channel `json:"channel"`
	Recipient string         `json:"recipient"`
	Verified  bool           `json:"verified"`
	Enabled   bool           `json:"enabled"`
}

// Directory — внешний сервис предпочтений и контактов.
type Directory interface {
	Resolve(ctx context.Context, learnerID uuid.UUID) ([]ContactPoint, error)
}

type Client struct {
	baseURL string
	http    httpclient.HTTPClient
	cache   *cache.Cache
	logger  *zap.SugaredLogger
}

func NewClient(conf config.Directory, http httpclient.HTTPClient, cache *cache.Cache, logger *zap.SugaredLogger) *Client {
	return &Client{baseURL: conf.BaseURL, http: http, cache: cache, logger: logger}
}

// Resolve возвращает включённые и подтверждённые контакты учащегося.
// Недоступность директории — транзиентная ошибка: интент уйдёт в backoff,
// а не в тихую потерю нотификации.
func (c *Client) Resolve(ctx context.Context, learnerID uuid.UUID) ([]ContactPoint, error) {
	key := "directory:prefs:" + learnerID.String()

	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, key); err != nil {
			c.logger.Warnf("[learner: %s] directory cache read failed: %v", learnerID, err)
		} else if ok {
			var points []ContactPoint
			if err := json.Unmarshal(raw, &points); err == nil {
				return filterUsable(points), nil
			}
		}
	}

	points, err := c.fetch(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if raw, err := json.Marshal(points); err == nil {
			if err := c.cache.Set(ctx, key, raw); err != nil {
				c.logger.Warnf("[learner: %s] directory cache write failed: %v", learnerID, err)
			}
		}
	}

	return filterUsable(points), nil
}

func (c *Client) fetch(ctx context.Context, learnerID uuid.UUID) ([]ContactPoint, error) {
	url := fmt.Sprintf("%s/learners/%s/contact-points", c.baseURL, learnerID)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("directory call: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory status %d for learner %s", resp.StatusCode, learnerID)
	}

	var points []ContactPoint
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}

	return points, nil
}

func filterUsable(points []ContactPoint) []ContactPoint {
	res := make([]ContactPoint, 0, len(points))
	for _, p := range points {
		if p.Enabled && p.Verified && p.Recipient != "" {
			res = append(res, p)
		}
	}
	return res
}
