package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"progress/internal/application/entity"
)

// Таксономия исходов отправки. Воркер по ним решает: ретрай с backoff
// (transient) либо сразу dead-letter (permanent).
var (
	ErrTransient = errors.New("transient send failure")
	ErrPermanent = errors.New("permanent send failure")
)

// Sender — внешний канальный транспорт за узким интерфейсом.
// Таймаут обеспечивает вызывающий через ctx.
type Sender interface {
	Send(ctx context.Context, recipient string, payload []byte) error
	Channel() entity.Channel
}

func decodePayload(raw []byte) (entity.IntentPayload, error) {
	var p entity.IntentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode intent payload: %w: %v", ErrPermanent, err)
	}
	if p.Title == "" && p.Message == "" {
		return p, fmt.Errorf("empty notification payload: %w", ErrPermanent)
	}
	return p, nil
}
