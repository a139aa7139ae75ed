package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"progress/pkg/cache"
	"progress/pkg/config"
	"progress/pkg/httpclient"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// CourseInfo — срез каталога, нужный пайплайну: lesson count для
// percentComplete и названия для текстов нотификаций.
type CourseInfo struct {
	ID           uuid.UUID         `json:"id"`
	Title        string            `json:"title"`
	LessonCount  int               `json:"lessonCount"`
	LessonTitles map[string]string `json:"lessonTitles"`
}

// Catalog — внешний course service за узким интерфейсом.
type Catalog interface {
	Course(ctx context.Context, courseID uuid.UUID) (*CourseInfo, error)
}

type Client struct {
	baseURL string
	http    httpclient.HTTPClient
	cache   *cache.Cache
	logger  *zap.SugaredLogger
}

func NewClient(conf config.Catalog, http httpclient.HTTPClient, cache *cache.Cache, logger *zap.SugaredLogger) *Client {
	return &Client{baseURL: conf.BaseURL, http: http, cache: cache, logger: logger}
}

// Course — cache-aside: lesson count курса меняется редко, горячий путь
// агрегатора не должен ходить в каталог на каждое событие.
func (c *Client) Course(ctx context.Context, courseID uuid.UUID) (*CourseInfo, error) {
	key := "catalog:course:" + courseID.String()

	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, key); err != nil {
			c.logger.Warnf("[course: %s] catalog cache read failed: %v", courseID, err)
		} else if ok {
			var info CourseInfo
			if err := json.Unmarshal(raw, &info); err == nil {
				return &info, nil
			}
			c.logger.Warnf("[course: %s] catalog cache entry corrupted, refetching", courseID)
		}
	}

	info, err := c.fetch(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if raw, err := json.Marshal(info); err == nil {
			if err := c.cache.Set(ctx, key, raw); err != nil {
				c.logger.Warnf("[course: %s] catalog cache write failed: %v", courseID, err)
			}
		}
	}

	return info, nil
}

func (c *Client) fetch(ctx context.Context, courseID uuid.UUID) (*CourseInfo, error) {
	url := fmt.Sprintf("%s/courses/%s", c.baseURL, courseID)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("catalog call: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog status %d for course %s", resp.StatusCode, courseID)
	}

	var info CourseInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	if info.LessonCount <= 0 {
		return nil, fmt.Errorf("catalog returned lessonCount=%d for course %s", info.LessonCount, courseID)
	}

	return &info, nil
}
