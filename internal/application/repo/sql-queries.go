package repo

// AGGREGATE
const getAggregateSQL = `
SELECT learner_id, course_id, completed_lesson_ids, applied_event_ids,
       total_time_spent_seconds, last_applied_seq, percent_complete,
       status, version, updated_at
FROM progress_aggregate
WHERE learner_id = $1 AND course_id = $2`

const insertAggregateSQL = `
INSERT INTO progress_aggregate (
  learner_id, course_id, completed_lesson_ids, applied_event_ids,
  total_time_spent_seconds, last_applied_seq, percent_complete, status, version, updated_at
) VALUES ($1, $2, ($3)::jsonb, ($4)::jsonb, $5, $6, $7, $8, 1, now())
ON CONFLICT (learner_id, course_id) DO NOTHING
RETURNING version`

// CAS: запись проходит только если version не изменился с момента чтения.
const updateAggregateCASSQL = `
UPDATE progress_aggregate
SET completed_lesson_ids = ($3)::jsonb,
    applied_event_ids = ($4)::jsonb,
    total_time_spent_seconds = $5,
    last_applied_seq = $6,
    percent_complete = $7,
    status = $8,
    version = version + 1,
    updated_at = now()
WHERE learner_id = $1 AND course_id = $2 AND version = $9`

// INTENT (outbox)
const insertIntentSQL = `
INSERT INTO notification_intent (
  id, learner_id, course_id, milestone_kind, payload, status, attempts, next_attempt_at, created_at
) VALUES ($1, $2, $3, $4, ($5)::jsonb, $6, 0, now(), now())
ON CONFLICT (id) DO NOTHING
RETURNING id`

const reserveIntentBatchSQL = `
WITH picked AS (
	SELECT id
  	FROM notification_intent
  	WHERE status IN ('NEW','FAILED')
		AND next_attempt_at <= now()
    	AND attempts < $3
  	ORDER BY created_at
  	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
UPDATE notification_intent AS i
SET next_attempt_at = now() + $1::interval
FROM picked
WHERE i.id = picked.id
RETURNING i.id, i.learner_id, i.course_id, i.milestone_kind, i.payload,
          i.status, i.attempts, i.next_attempt_at, i.created_at`

const getIntentSQL = `
SELECT id, learner_id, course_id, milestone_kind, payload, status, attempts, next_attempt_at, created_at
FROM notification_intent
WHERE id = $1`

const markIntentRoutedSQL = `UPDATE notification_intent SET status=$2 WHERE id=$1`

const markIntentFailedSQL = `
UPDATE notification_intent
SET status=$2, attempts=attempts+1, next_attempt_at=$3
WHERE id=$1`

const markIntentGaveUpSQL = `
UPDATE notification_intent
SET status=$2, attempts=attempts+1, next_attempt_at = now()
WHERE id=$1`

// DELIVERY TASK
// Единственность (intent_id, channel) — граница идемпотентности роутера.
const insertTaskSQL = `
INSERT INTO delivery_task (
  id, intent_id, channel, recipient, payload, attempt, status, last_error, next_attempt_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, ($5)::jsonb, 0, $6, '', now() + $7::interval, now(), now())
ON CONFLICT (intent_id, channel) DO NOTHING
RETURNING id`

const getTaskSQL = `
SELECT id, intent_id, channel, recipient, payload, attempt, status, last_error,
       next_attempt_at, created_at, updated_at
FROM delivery_task
WHERE id = $1`

const getTasksByIntentSQL = `
SELECT id, intent_id, channel, recipient, payload, attempt, status, last_error,
       next_attempt_at, created_at, updated_at
FROM delivery_task
WHERE intent_id = $1
ORDER BY channel`

const getTaskForUpdateSQL = `
SELECT id, intent_id, channel, recipient, payload, attempt, status, last_error,
       next_attempt_at, created_at, updated_at
FROM delivery_task
WHERE id = $1
FOR UPDATE`

// Захват попытки: лизинг = send timeout + запас, чтобы retry-relay мог
// подобрать задачу, если воркер умрёт посреди отправки.
const markTaskInFlightSQL = `
UPDATE delivery_task
SET status = 'IN_FLIGHT', attempt = attempt + 1, next_attempt_at = now() + $2::interval, updated_at = now()
WHERE id = $1
RETURNING attempt`

const finishTaskSQL = `
UPDATE delivery_task
SET status = $2, last_error = $3, next_attempt_at = $4, updated_at = now()
WHERE id = $1`

const rollbackTaskPendingSQL = `
UPDATE delivery_task
SET status = 'PENDING', last_error = $2, next_attempt_at = $3, updated_at = now()
WHERE id = $1 AND status = 'PENDING'`

const reserveDueTasksSQL = `
WITH picked AS (
	SELECT id
  	FROM delivery_task
  	WHERE status IN ('PENDING','FAILED','IN_FLIGHT')
		AND next_attempt_at <= now()
  	ORDER BY next_attempt_at
  	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
UPDATE delivery_task AS t
SET next_attempt_at = now() + $1::interval, updated_at = now(),
    status = CASE WHEN t.status = 'IN_FLIGHT' THEN 'FAILED' ELSE t.status END
FROM picked
WHERE t.id = picked.id
RETURNING t.id, t.intent_id, t.channel, t.recipient, t.payload, t.attempt,
          t.status, t.last_error, t.next_attempt_at, t.created_at, t.updated_at`

// DELIVERY RECORD (append-only)
const insertRecordSQL = `
INSERT INTO delivery_record (task_id, from_status, to_status, attempt, error, created_at)
VALUES ($1, $2, $3, $4, $5, now())`

const getRecordsSQL = `
SELECT id, task_id, from_status, to_status, attempt, error, created_at
FROM delivery_record
WHERE task_id = $1
ORDER BY id`

const purgeOldRecordsSQL = `
DELETE FROM delivery_record
WHERE created_at < now() - make_interval(days => $1)`
