package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"progress/internal/application/entity"
	"progress/pkg/config"
	"progress/pkg/httpclient"

	"go.uber.org/zap"
)

// gatewaySender — общий HTTP-адаптер для SMS и push шлюзов: POST JSON,
// API-ключ в заголовке. Ретраев здесь нет намеренно — повтор попытки
// принадлежит state machine задачи, не транспорту.
type gatewaySender struct {
	channel entity.Channel
	conf    config.GatewayURL
	client  httpclient.HTTPClient
	logger  *zap.SugaredLogger
}

func NewSMSSender(conf config.GatewayURL, client httpclient.HTTPClient, logger *zap.SugaredLogger) Sender {
	return &gatewaySender{channel: entity.ChannelSMS, conf: conf, client: client, logger: logger}
}

func NewPushSender(conf config.GatewayURL, client httpclient.HTTPClient, logger *zap.SugaredLogger) Sender {
	return &gatewaySender{channel: entity.ChannelPush, conf: conf, client: client, logger: logger}
}

func (s *gatewaySender) Channel() entity.Channel { return s.channel }

type gatewayRequest struct {
	To      string `json:"to"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

func (s *gatewaySender) Send(ctx context.Context, recipient string, payload []byte) error {
	p, err := decodePayload(payload)
	if err != nil {
		return err
	}

	body, err := json.Marshal(gatewayRequest{To: recipient, Title: p.Title, Message: p.Message})
	if err != nil {
		return fmt.Errorf("encode gateway request: %w: %v", ErrPermanent, err)
	}

	req, err := http.NewRequest(http.MethodPost, s.conf.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.conf.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.conf.APIKey)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s gateway call: %w: %v", s.channel, ErrTransient, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return fmt.Errorf("%s gateway status %d: %w", s.channel, resp.StatusCode, ErrTransient)
	default:
		// 4xx: невалидный получатель, отклонено политикой — повтор бессмыслен
		return fmt.Errorf("%s gateway status %d: %w", s.channel, resp.StatusCode, ErrPermanent)
	}
}
