package entity

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

type TaskStatus string

const (
	TaskPending      TaskStatus = "PENDING"
	TaskInFlight     TaskStatus = "IN_FLIGHT"
	TaskDelivered    TaskStatus = "DELIVERED"
	TaskFailed       TaskStatus = "FAILED" // транзиентный сбой, ждёт ретрая по next_attempt_at
	TaskDeadLettered TaskStatus = "DEAD_LETTERED"
)

// DeliveryTask — одна задача доставки на пару (intent, channel).
// Инвариант единственности держит уникальный индекс (intent_id, channel),
// а не семантика очереди.
type DeliveryTask struct {
	ID            uuid.UUID       `db:"id"`
	IntentID      uuid.UUID       `db:"intent_id"`
	Channel       Channel         `db:"channel"`
	Recipient     string          `db:"recipient"`
	Payload       json.RawMessage `db:"payload"`
	Attempt       int             `db:"attempt"`
	Status        TaskStatus      `db:"status"`
	LastError     string          `db:"last_error"`
	NextAttemptAt time.Time       `db:"next_attempt_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// TaskEnvelope — сообщение в канальном топике очереди.
type TaskEnvelope struct {
	TaskID    uuid.UUID       `json:"taskId"`
	IntentID  uuid.UUID       `json:"intentId"`
	Channel   Channel         `json:"channel"`
	Recipient string          `json:"recipient"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
}

// DeliveryRecord — append-only аудит переходов статуса задачи.
// Никогда не удаляется вручную, чистится только retention-джобой.
type DeliveryRecord struct {
	ID         int64      `db:"id"`
	TaskID     uuid.UUID  `db:"task_id"`
	FromStatus TaskStatus `db:"from_status"`
	ToStatus   TaskStatus `db:"to_status"`
	Attempt    int        `db:"attempt"`
	Error      string     `db:"error"`
	CreatedAt  time.Time  `db:"created_at"`
}
