package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"progress/internal/appers"
	"progress/internal/application/entity"
	"progress/internal/application/repo"
	"progress/internal/transport/catalog"
	"progress/internal/transport/directory"
	"progress/internal/transport/sender"
	"progress/pkg/config"
	"progress/pkg/metrics"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var errPublishForTest = errors.New("broker unavailable")

// In-memory двойники хранилища и коллабораторов. Семантика повторяет
// контракты боевых реализаций: дедуп интентов/задач по ключу, переходы
// статусов задач, учёт попыток.

type fakeStore struct {
	mu sync.Mutex

	aggregates map[string]*entity.ProgressAggregate
	intents    map[uuid.UUID]*entity.NotificationIntent
	tasks      map[uuid.UUID]*entity.DeliveryTask
	taskByKey  map[string]uuid.UUID // intentID|channel
	records    map[uuid.UUID][]entity.DeliveryRecord

	// casConflicts: столько первых вызовов ApplyAggregate вернут конфликт
	casConflicts int
	applyErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		aggregates: map[string]*entity.ProgressAggregate{},
		intents:    map[uuid.UUID]*entity.NotificationIntent{},
		tasks:      map[uuid.UUID]*entity.DeliveryTask{},
		taskByKey:  map[string]uuid.UUID{},
		records:    map[uuid.UUID][]entity.DeliveryRecord{},
	}
}

func aggKey(learnerID, courseID uuid.UUID) string {
	return learnerID.String() + "|" + courseID.String()
}

func taskKey(intentID uuid.UUID, ch entity.Channel) string {
	return intentID.String() + "|" + string(ch)
}

// --- repo.Repo ---

type fakeRepo struct {
	s *fakeStore
}

var _ repo.Repo = (*fakeRepo)(nil)

func (r *fakeRepo) GetAggregate(ctx context.Context, learnerID, courseID uuid.UUID) (*entity.ProgressAggregate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if agg, ok := r.s.aggregates[aggKey(learnerID, courseID)]; ok {
		cp := *agg
		cp.CompletedLessonIDs = map[string]bool{}
		for k, v := range agg.CompletedLessonIDs {
			cp.CompletedLessonIDs[k] = v
		}
		cp.AppliedEventIDs = map[string]string{}
		for k, v := range agg.AppliedEventIDs {
			cp.AppliedEventIDs[k] = v
		}
		return &cp, nil
	}
	return entity.NewProgressAggregate(learnerID, courseID), nil
}

func (r *fakeRepo) SaveAggregateCAS(ctx context.Context, agg *entity.ProgressAggregate, readVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	agg.Version = readVersion + 1
	cp := *agg
	r.s.aggregates[aggKey(agg.LearnerID, agg.CourseID)] = &cp
	return nil
}

func (r *fakeRepo) InsertIntent(ctx context.Context, in *entity.NotificationIntent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.intents[in.ID]; ok {
		return false, nil
	}
	cp := *in
	r.s.intents[in.ID] = &cp
	return true, nil
}

func (r *fakeRepo) GetIntent(ctx context.Context, id uuid.UUID) (*entity.NotificationIntent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if in, ok := r.s.intents[id]; ok {
		cp := *in
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeRepo) ReserveIntentBatch(ctx context.Context, lease time.Duration, limit, maxAttempts int) ([]entity.NotificationIntent, error) {
	return nil, nil
}

func (r *fakeRepo) MarkIntentRouted(ctx context.Context, id uuid.UUID) error {
	return r.setIntentStatus(id, entity.IntentRouted)
}

func (r *fakeRepo) MarkIntentFailedWithBackoff(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if in, ok := r.s.intents[id]; ok {
		in.Status = entity.IntentFailed
		in.Attempts++
		in.NextAttemptAt = nextAttemptAt
	}
	return nil
}

func (r *fakeRepo) MarkIntentGaveUp(ctx context.Context, id uuid.UUID) error {
	return r.setIntentStatus(id, entity.IntentGaveUp)
}

func (r *fakeRepo) setIntentStatus(id uuid.UUID, st entity.IntentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if in, ok := r.s.intents[id]; ok {
		in.Status = st
	}
	return nil
}

func (r *fakeRepo) InsertTask(ctx context.Context, t *entity.DeliveryTask, recoveryDelay time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := taskKey(t.IntentID, t.Channel)
	if _, ok := r.s.taskByKey[key]; ok {
		return false, nil
	}
	t.NextAttemptAt = time.Now().UTC().Add(recoveryDelay)
	cp := *t
	r.s.tasks[t.ID] = &cp
	r.s.taskByKey[key] = t.ID
	return true, nil
}

func (r *fakeRepo) GetTask(ctx context.Context, id uuid.UUID) (*entity.DeliveryTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeRepo) GetTasksByIntent(ctx context.Context, intentID uuid.UUID) ([]entity.DeliveryTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entity.DeliveryTask
	for _, t := range r.s.tasks {
		if t.IntentID == intentID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeRepo) RescheduleTaskPending(ctx context.Context, id uuid.UUID, lastErr string, nextAttemptAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.tasks[id]; ok && t.Status == entity.TaskPending {
		t.LastError = lastErr
		t.NextAttemptAt = nextAttemptAt
	}
	return nil
}

func (r *fakeRepo) ReserveDueTasks(ctx context.Context, lease time.Duration, limit int) ([]entity.DeliveryTask, error) {
	return nil, nil
}

func (r *fakeRepo) AppendRecord(ctx context.Context, rec *entity.DeliveryRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.records[rec.TaskID] = append(r.s.records[rec.TaskID], *rec)
	return nil
}

func (r *fakeRepo) GetRecords(ctx context.Context, taskID uuid.UUID) ([]entity.DeliveryRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]entity.DeliveryRecord(nil), r.s.records[taskID]...), nil
}

func (r *fakeRepo) PurgeOldRecords(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) HealthCheck(ctx context.Context) error { return nil }

// --- repo.Transactions ---

type fakeTransactions struct {
	s *fakeStore
	r *fakeRepo

	dueIntents []entity.NotificationIntent
	dueTasks   []entity.DeliveryTask
}

var _ repo.Transactions = (*fakeTransactions)(nil)

func (t *fakeTransactions) ApplyAggregate(ctx context.Context, agg *entity.ProgressAggregate, readVersion int64, intents []entity.NotificationIntent) (int, error) {
	t.s.mu.Lock()
	if t.s.applyErr != nil {
		err := t.s.applyErr
		t.s.mu.Unlock()
		return 0, err
	}
	if t.s.casConflicts > 0 {
		t.s.casConflicts--
		t.s.mu.Unlock()
		return 0, appers.ErrCASConflict
	}
	t.s.mu.Unlock()

	if err := t.r.SaveAggregateCAS(ctx, agg, readVersion); err != nil {
		return 0, err
	}
	inserted := 0
	for i := range intents {
		ok, err := t.r.InsertIntent(ctx, &intents[i])
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (t *fakeTransactions) GetIntentsForRouting(ctx context.Context, c config.RouterConfig) ([]entity.NotificationIntent, error) {
	out := t.dueIntents
	t.dueIntents = nil
	return out, nil
}

func (t *fakeTransactions) BeginTaskAttempt(ctx context.Context, taskID uuid.UUID, lease time.Duration) (*entity.DeliveryTask, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	task, ok := t.s.tasks[taskID]
	if !ok {
		return nil, false, pgx.ErrNoRows
	}
	if task.Status != entity.TaskPending && task.Status != entity.TaskFailed {
		cp := *task
		return &cp, false, nil
	}

	from := task.Status
	task.Attempt++
	task.Status = entity.TaskInFlight
	t.s.records[task.ID] = append(t.s.records[task.ID], entity.DeliveryRecord{
		TaskID:     task.ID,
		FromStatus: from,
		ToStatus:   entity.TaskInFlight,
		Attempt:    task.Attempt,
	})
	cp := *task
	return &cp, true, nil
}

func (t *fakeTransactions) FinishTaskAttempt(ctx context.Context, task *entity.DeliveryTask, to entity.TaskStatus, lastErr string, nextAttemptAt time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	stored := t.s.tasks[task.ID]
	stored.Status = to
	stored.LastError = lastErr
	stored.NextAttemptAt = nextAttemptAt
	t.s.records[task.ID] = append(t.s.records[task.ID], entity.DeliveryRecord{
		TaskID:     task.ID,
		FromStatus: entity.TaskInFlight,
		ToStatus:   to,
		Attempt:    task.Attempt,
		Error:      lastErr,
	})
	task.Status = to
	task.LastError = lastErr
	return nil
}

func (t *fakeTransactions) GetDueTaskRetries(ctx context.Context, lease time.Duration, limit int) ([]entity.DeliveryTask, error) {
	out := t.dueTasks
	t.dueTasks = nil
	return out, nil
}

// --- транспорт ---

type publishedMsg struct {
	Topic string
	Key   string
	Value []byte
}

type fakeProducer struct {
	mu        sync.Mutex
	published []publishedMsg
	failTopic string
}

func (p *fakeProducer) Publish(ctx context.Context, topic, key string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTopic != "" && p.failTopic == topic {
		return errPublishForTest
	}
	p.published = append(p.published, publishedMsg{Topic: topic, Key: key, Value: message})
	return nil
}

func (p *fakeProducer) HealthCheck(ctx context.Context) error { return nil }

func (p *fakeProducer) byTopic(topic string) []publishedMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMsg
	for _, m := range p.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeSender struct {
	channel entity.Channel

	mu    sync.Mutex
	calls int
	// errs[i] — результат i-го вызова; за пределами скрипта — успех
	errs []error
}

func (s *fakeSender) Send(ctx context.Context, recipient string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) {
		return s.errs[i]
	}
	return nil
}

func (s *fakeSender) Channel() entity.Channel { return s.channel }

type fakeCatalog struct {
	course *catalog.CourseInfo
	err    error
}

func (c *fakeCatalog) Course(ctx context.Context, courseID uuid.UUID) (*catalog.CourseInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.course, nil
}

type fakeDirectory struct {
	points []directory.ContactPoint
	err    error
}

func (d *fakeDirectory) Resolve(ctx context.Context, learnerID uuid.UUID) ([]directory.ContactPoint, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.points, nil
}

// --- сборка сервиса для тестов ---

type testEnv struct {
	store     *fakeStore
	repo      *fakeRepo
	tx        *fakeTransactions
	producer  *fakeProducer
	catalog   *fakeCatalog
	directory *fakeDirectory
	senders   map[entity.Channel]*fakeSender
	svc       *ServiceImpl
	conf      *config.Config
	m         *metrics.Metrics
}

func newTestEnv() *testEnv {
	store := newFakeStore()
	fr := &fakeRepo{s: store}
	tx := &fakeTransactions{s: store, r: fr}
	prod := &fakeProducer{}

	conf := &config.Config{}
	conf.Aggregator.Thresholds = []int{25, 50, 75}
	conf.Aggregator.CASRetries = 3
	conf.Broker.Kafka.ChannelTopicPrefix = "notify.tasks"
	conf.Broker.Kafka.PoisonTopic = "progress.poison"
	conf.Broker.Kafka.DeadLetterTopic = "notify.dead-letter"
	conf.Router.MaxAttempts = 5
	conf.Router.Lease = 30 * time.Second
	conf.Workers.MaxAttempts = 3
	conf.Workers.SendTimeout = time.Second
	conf.Workers.BaseBackoff = time.Millisecond
	conf.Workers.MaxBackoff = 5 * time.Millisecond
	conf.Workers.RetryLease = time.Second
	conf.Workers.EmailPool = 2
	conf.Workers.SMSPool = 2
	conf.Workers.PushPool = 2

	senders := map[entity.Channel]*fakeSender{
		entity.ChannelEmail: {channel: entity.ChannelEmail},
		entity.ChannelSMS:   {channel: entity.ChannelSMS},
		entity.ChannelPush:  {channel: entity.ChannelPush},
	}
	sendersIface := make(map[entity.Channel]sender.Sender, len(senders))
	for ch, s := range senders {
		sendersIface[ch] = s
	}

	cat := &fakeCatalog{course: &catalog.CourseInfo{Title: "Go in Practice", LessonCount: 4}}
	dir := &fakeDirectory{}

	// Свежий реестр на тест: все метрики конвейера дёргаются по-настоящему,
	// неверная кардинальность лейблов уронит тест паникой.
	m := metrics.New(prometheus.NewRegistry())

	svc := NewService(fr, tx, prod, sendersIface, cat, dir, nil, zap.NewNop().Sugar(), conf, m)

	return &testEnv{
		store:     store,
		repo:      fr,
		tx:        tx,
		producer:  prod,
		catalog:   cat,
		directory: dir,
		senders:   senders,
		svc:       svc,
		conf:      conf,
		m:         m,
	}
}
