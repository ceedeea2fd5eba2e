package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Verista/internal/coord"
	"github.com/shaiso/Verista/internal/domain"
	"github.com/shaiso/Verista/internal/gateway"
	"github.com/shaiso/Verista/internal/repo"
)

// --- Фейки ---

type fakeCallStore struct {
	mu        sync.Mutex
	calls     map[uuid.UUID]domain.Call
	createErr error
	updateErr error
}

func newFakeCallStore() *fakeCallStore {
	return &fakeCallStore{calls: make(map[uuid.UUID]domain.Call)}
}

func (f *fakeCallStore) Create(_ context.Context, call *domain.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.calls[call.ID] = *call
	return nil
}

func (f *fakeCallStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &call, nil
}

func (f *fakeCallStore) Update(_ context.Context, call *domain.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.calls[call.ID]; !ok {
		return repo.ErrNotFound
	}
	f.calls[call.ID] = *call
	return nil
}

// Finalize повторяет условный UPDATE: терминальная запись не перезаписывается.
func (f *fakeCallStore) Finalize(_ context.Context, call *domain.Call) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.calls[call.ID]
	if !ok {
		return false, nil
	}
	if stored.Status.IsTerminal() {
		return false, nil
	}
	stored.Status = call.Status
	stored.RetryCount = call.RetryCount
	stored.Transcript = call.Transcript
	stored.FailureReason = call.FailureReason
	stored.EndedAt = call.EndedAt
	f.calls[call.ID] = stored
	return true, nil
}

func (f *fakeCallStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]domain.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []domain.Call
	for _, call := range f.calls {
		if call.Status == domain.CallStatusDispatched && call.StartedAt != nil && call.StartedAt.Before(cutoff) {
			stale = append(stale, call)
		}
		if len(stale) >= limit {
			break
		}
	}
	return stale, nil
}

func (f *fakeCallStore) get(t *testing.T, id uuid.UUID) domain.Call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[id]
	if !ok {
		t.Fatalf("call %s not in store", id)
	}
	return call
}

type fakeSpecialistStore struct {
	mu          sync.Mutex
	specialists map[uuid.UUID]domain.Specialist
	verified    map[uuid.UUID]time.Time
}

func newFakeSpecialistStore() *fakeSpecialistStore {
	return &fakeSpecialistStore{
		specialists: make(map[uuid.UUID]domain.Specialist),
		verified:    make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeSpecialistStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Specialist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp, ok := f.specialists[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &sp, nil
}

func (f *fakeSpecialistStore) MarkVerified(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.specialists[id]; !ok {
		return repo.ErrNotFound
	}
	f.verified[id] = at
	return nil
}

func (f *fakeSpecialistStore) add(sp domain.Specialist) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specialists[sp.ID] = sp
}

type queueEntry struct {
	id    uuid.UUID
	score float64
}

// fakeCoord воспроизводит семантику coord.Store в памяти, включая
// атомарный гейт и отложенную видимость записей с ready_at в будущем.
type fakeCoord struct {
	mu     sync.Mutex
	queue  []queueEntry
	active map[uuid.UUID]bool
	states map[uuid.UUID]*coord.CallState

	// clock подменяет "сейчас" для проверки ready_at.
	clock func() time.Time
}

func newFakeCoord() *fakeCoord {
	return &fakeCoord{
		active: make(map[uuid.UUID]bool),
		states: make(map[uuid.UUID]*coord.CallState),
		clock:  time.Now,
	}
}

func (f *fakeCoord) Enqueue(_ context.Context, callID uuid.UUID, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.queue {
		if f.queue[i].id == callID {
			f.queue[i].score = score
			return nil
		}
	}
	f.queue = append(f.queue, queueEntry{id: callID, score: score})
	return nil
}

func (f *fakeCoord) GatedPop(_ context.Context, maxActive int) (uuid.UUID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.active) >= maxActive {
		return uuid.Nil, false, nil
	}

	sort.SliceStable(f.queue, func(i, j int) bool {
		return f.queue[i].score > f.queue[j].score
	})

	now := f.clock()
	for i, e := range f.queue {
		if st, ok := f.states[e.id]; ok && !st.ReadyAt.IsZero() && st.ReadyAt.After(now) {
			continue
		}
		f.queue = append(f.queue[:i], f.queue[i+1:]...)
		return e.id, true, nil
	}
	return uuid.Nil, false, nil
}

func (f *fakeCoord) QueueDepth(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.queue)), nil
}

func (f *fakeCoord) RemoveQueued(_ context.Context, callID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.queue {
		if f.queue[i].id == callID {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeCoord) ActiveAdd(_ context.Context, callID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[callID] = true
	return nil
}

func (f *fakeCoord) ActiveRemove(_ context.Context, callID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, callID)
	return nil
}

func (f *fakeCoord) ActiveCount(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.active)), nil
}

func (f *fakeCoord) ActiveMembers(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]uuid.UUID, 0, len(f.active))
	for id := range f.active {
		members = append(members, id)
	}
	return members, nil
}

func (f *fakeCoord) SaveState(_ context.Context, st *coord.CallState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *st
	f.states[st.CallID] = &cp
	return nil
}

func (f *fakeCoord) GetState(_ context.Context, callID uuid.UUID) (*coord.CallState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, coord.ErrStateMissing)
	}
	cp := *st
	return &cp, nil
}

func (f *fakeCoord) UpdateState(_ context.Context, callID uuid.UUID, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[callID]
	if !ok {
		return nil
	}
	for k, v := range fields {
		switch k {
		case "status":
			st.Status = domain.CallStatus(v)
		case "session_id":
			st.SessionID = v
		case "last_failure":
			st.LastFailure = v
		case "retry_count":
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			st.RetryCount = n
		case "ready_at":
			sec, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			st.ReadyAt = time.Unix(sec, 0).UTC()
		}
	}
	return nil
}

func (f *fakeCoord) DropState(_ context.Context, callID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, callID)
	return nil
}

func (f *fakeCoord) inQueue(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.queue {
		if e.id == id {
			return true
		}
	}
	return false
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []string
	metadata []map[string]string
	legs     []gateway.LegRequest

	// failNext — количество ближайших попыток CreateSession, которые
	// должны упасть транзиентной ошибкой шлюза.
	failNext int
}

func (f *fakeDialer) CreateSession(_ context.Context, sessionID string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("session create: %w", gateway.ErrDispatchFailed)
	}
	f.sessions = append(f.sessions, sessionID)
	f.metadata = append(f.metadata, metadata)
	return nil
}

func (f *fakeDialer) PlaceOutboundLeg(_ context.Context, req gateway.LegRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.legs = append(f.legs, req)
	return nil
}

func (f *fakeDialer) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// --- Обвязка ---

type testEnv struct {
	orch   *Orchestrator
	calls  *fakeCallStore
	specs  *fakeSpecialistStore
	coord  *fakeCoord
	dialer *fakeDialer
}

func newTestEnv(maxConcurrent int) *testEnv {
	calls := newFakeCallStore()
	specs := newFakeSpecialistStore()
	fc := newFakeCoord()
	dialer := &fakeDialer{}

	orch := New(Config{
		Calls:             calls,
		Specialists:       specs,
		Coord:             fc,
		Dialer:            dialer,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxConcurrent:     maxConcurrent,
		MaxRetries:        3,
		BackoffBase:       30 * time.Second,
		BackoffMultiplier: 4,
		TrunkID:           "trunk-1",
		CallerID:          "+15550000000",
	})

	return &testEnv{orch: orch, calls: calls, specs: specs, coord: fc, dialer: dialer}
}

func (e *testEnv) seedSpecialist() domain.Specialist {
	sp := domain.Specialist{
		ID:        uuid.New(),
		Name:      "Dr. Test",
		Phone:     "+15557001234",
		Specialty: "cardiology",
		CreatedAt: time.Now().UTC(),
	}
	e.specs.add(sp)
	return sp
}

// warpClock сдвигает "сейчас" гейта вперёд, чтобы записи на backoff
// стали видимыми.
func (e *testEnv) warpClock(d time.Duration) {
	e.coord.mu.Lock()
	defer e.coord.mu.Unlock()
	e.coord.clock = func() time.Time { return time.Now().Add(d) }
}

// --- Schedule ---

func TestSchedule_CreatesRecordAndEnqueues(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, err := env.orch.Schedule(ctx, sp.ID, 5.0, map[string]string{"reason": "initial"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusQueued {
		t.Errorf("expected queued, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Errorf("fresh call must have retry_count 0, got %d", stored.RetryCount)
	}

	st, err := env.coord.GetState(ctx, call.ID)
	if err != nil {
		t.Fatalf("state must exist after schedule: %v", err)
	}
	if st.Metadata["reason"] != "initial" {
		t.Errorf("metadata not stored: %v", st.Metadata)
	}

	if !env.coord.inQueue(call.ID) {
		t.Error("call must be in the queue after schedule")
	}
}

func TestSchedule_PersistenceErrorPropagates(t *testing.T) {
	env := newTestEnv(10)
	env.calls.createErr = errors.New("connection refused")
	sp := env.seedSpecialist()

	_, err := env.orch.Schedule(context.Background(), sp.ID, 5.0, nil)
	if err == nil {
		t.Fatal("expected error when durable create fails")
	}

	depth, _ := env.coord.QueueDepth(context.Background())
	if depth != 0 {
		t.Errorf("queue must stay empty when durable create fails, depth %d", depth)
	}
}

// --- GetNextCall ---

func TestGetNextCall_PriorityOrder(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	low, _ := env.orch.Schedule(ctx, sp.ID, 1.0, nil)
	high, _ := env.orch.Schedule(ctx, sp.ID, 10.0, nil)
	mid, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)

	want := []uuid.UUID{high.ID, mid.ID, low.ID}
	for i, expected := range want {
		st, err := env.orch.GetNextCall(ctx)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if st == nil {
			t.Fatalf("pop %d: expected a call, got none", i)
		}
		if st.CallID != expected {
			t.Errorf("pop %d: expected %s, got %s", i, expected, st.CallID)
		}
	}
}

func TestGetNextCall_EmptyQueue(t *testing.T) {
	env := newTestEnv(10)

	st, err := env.orch.GetNextCall(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != nil {
		t.Errorf("empty queue must yield nil, got %v", st)
	}
}

func TestGetNextCall_GateBlocksAtLimit(t *testing.T) {
	env := newTestEnv(1)
	ctx := context.Background()
	sp := env.seedSpecialist()

	first, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.Schedule(ctx, sp.ID, 5.0, nil)

	st, _ := env.orch.GetNextCall(ctx)
	if st == nil || st.CallID != first.ID {
		t.Fatalf("expected first call, got %v", st)
	}
	if err := env.orch.DispatchCall(ctx, first.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// Лимит 1, один активный — второй звонок не выдаётся.
	blocked, err := env.orch.GetNextCall(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocked != nil {
		t.Errorf("gate must block at the limit, got %v", blocked.CallID)
	}

	// Терминальный переход освобождает слот.
	if err := env.orch.CallCompleted(ctx, first.ID, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	next, _ := env.orch.GetNextCall(ctx)
	if next == nil {
		t.Error("slot freed, second call must be dequeued")
	}
}

func TestGetNextCall_SkipsMissingState(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	// Осиротевшая запись в очереди без Hash состояния.
	orphan := uuid.New()
	env.coord.Enqueue(ctx, orphan, 100.0)

	real, _ := env.orch.Schedule(ctx, sp.ID, 1.0, nil)

	st, err := env.orch.GetNextCall(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st == nil || st.CallID != real.ID {
		t.Fatalf("orphan must be skipped, expected %s, got %v", real.ID, st)
	}
	if env.coord.inQueue(orphan) {
		t.Error("orphan entry must be dropped from the queue")
	}
}

// --- DispatchCall ---

func TestDispatchCall_Success(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, map[string]string{"language": "en"})
	if err := env.orch.DispatchCall(ctx, call.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusDispatched {
		t.Errorf("expected dispatched, got %s", stored.Status)
	}
	wantSession := "verify-" + call.ID.String()
	if stored.SessionID != wantSession {
		t.Errorf("expected session %s, got %s", wantSession, stored.SessionID)
	}
	if stored.StartedAt == nil {
		t.Error("started_at must be set on dispatch")
	}

	if n, _ := env.coord.ActiveCount(ctx); n != 1 {
		t.Errorf("call must be in the active set, count %d", n)
	}

	if len(env.dialer.sessions) != 1 || env.dialer.sessions[0] != wantSession {
		t.Fatalf("gateway session not created: %v", env.dialer.sessions)
	}
	meta := env.dialer.metadata[0]
	if meta["call_id"] != call.ID.String() || meta["language"] != "en" {
		t.Errorf("session metadata incomplete: %v", meta)
	}

	if len(env.dialer.legs) != 1 {
		t.Fatalf("outbound leg not placed: %v", env.dialer.legs)
	}
	leg := env.dialer.legs[0]
	if leg.Destination != sp.Phone {
		t.Errorf("expected destination %s, got %s", sp.Phone, leg.Destination)
	}
	wantIdentity := "phone-" + sp.ID.String()[:8]
	if leg.ParticipantIdentity != wantIdentity {
		t.Errorf("expected identity %s, got %s", wantIdentity, leg.ParticipantIdentity)
	}
}

func TestDispatchCall_MissingSpecialistFailsTerminally(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()

	// Специалист существовал при schedule, но исчез к моменту dispatch.
	sp := env.seedSpecialist()
	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.specs.mu.Lock()
	delete(env.specs.specialists, sp.ID)
	env.specs.mu.Unlock()

	err := env.orch.DispatchCall(ctx, call.ID)
	if !errors.Is(err, ErrSpecialistMissing) {
		t.Fatalf("expected ErrSpecialistMissing, got %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusFailed {
		t.Errorf("validation failure must be terminal, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Errorf("validation failure must not consume retries, got %d", stored.RetryCount)
	}
	if env.dialer.sessionCount() != 0 {
		t.Error("gateway must not be called for an invalid specialist")
	}
	if env.coord.inQueue(call.ID) {
		t.Error("terminally failed call must leave the queue")
	}
	if _, err := env.coord.GetState(ctx, call.ID); !errors.Is(err, coord.ErrStateMissing) {
		t.Error("state must be dropped after terminal failure")
	}
}

func TestDispatchCall_UpdateFailureDoesNotHoldSlot(t *testing.T) {
	env := newTestEnv(1)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.GetNextCall(ctx)

	env.calls.updateErr = errors.New("connection reset")
	if err := env.orch.DispatchCall(ctx, call.ID); err == nil {
		t.Fatal("expected error when durable update fails")
	}
	env.calls.updateErr = nil

	// Durable-запись осталась QUEUED — слот гейта занимать нельзя.
	if n, _ := env.coord.ActiveCount(ctx); n != 0 {
		t.Fatalf("failed update must not leave the call active, count %d", n)
	}

	other, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	st, err := env.orch.GetNextCall(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st == nil || st.CallID != other.ID {
		t.Fatalf("gate must stay open after a failed update, got %v", st)
	}
}

func TestDispatchCall_NoPhoneFailsTerminally(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()

	sp := domain.Specialist{ID: uuid.New(), Name: "No Phone", CreatedAt: time.Now().UTC()}
	env.specs.add(sp)
	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)

	err := env.orch.DispatchCall(ctx, call.ID)
	if !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}
	if env.dialer.sessionCount() != 0 {
		t.Error("gateway must not be called without a destination")
	}
}

func TestDispatchCall_GatewayFailureRequeues(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.dialer.failNext = 1

	if err := env.orch.DispatchCall(ctx, call.ID); err != nil {
		t.Fatalf("transient gateway failure must not surface: %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusQueued {
		t.Errorf("call must be re-queued, got %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", stored.RetryCount)
	}

	if !env.coord.inQueue(call.ID) {
		t.Error("call must be back in the queue")
	}
	if n, _ := env.coord.ActiveCount(ctx); n != 0 {
		t.Errorf("failed dispatch must not leave the call active, count %d", n)
	}

	st, err := env.coord.GetState(ctx, call.ID)
	if err != nil {
		t.Fatalf("state must survive a retry: %v", err)
	}
	if !st.ReadyAt.After(time.Now().Add(20 * time.Second)) {
		t.Errorf("first retry must back off ~30s, ready_at %v", st.ReadyAt)
	}
}

func TestDispatchCall_FinishedCallIgnored(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.DispatchCall(ctx, call.ID)
	env.orch.CallCompleted(ctx, call.ID, "done")

	if err := env.orch.DispatchCall(ctx, call.ID); err != nil {
		t.Fatalf("dispatch of a finished call must be a no-op: %v", err)
	}
	if env.dialer.sessionCount() != 1 {
		t.Errorf("no second gateway call expected, got %d", env.dialer.sessionCount())
	}
}

// --- Retry-машина ---

func TestRetry_BackoffGrowsExponentially(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)

	// base=30s, multiplier=4: задержки 30s, 120s, 480s.
	wantDelays := []time.Duration{30 * time.Second, 120 * time.Second, 480 * time.Second}

	for attempt, want := range wantDelays {
		env.dialer.failNext = 1
		before := time.Now()
		if err := env.orch.DispatchCall(ctx, call.ID); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}

		st, err := env.coord.GetState(ctx, call.ID)
		if err != nil {
			t.Fatalf("attempt %d: state lost: %v", attempt, err)
		}
		gotDelay := st.ReadyAt.Sub(before)
		if gotDelay < want-2*time.Second || gotDelay > want+2*time.Second {
			t.Errorf("attempt %d: expected delay ~%v, got %v", attempt, want, gotDelay)
		}
		if st.RetryCount != attempt+1 {
			t.Errorf("attempt %d: expected retry_count %d, got %d", attempt, attempt+1, st.RetryCount)
		}
	}
}

func TestRetry_InvisibleUntilBackoffElapses(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.dialer.failNext = 1
	env.orch.DispatchCall(ctx, call.ID)

	// Звонок в очереди, но ready_at в будущем — не выдаётся.
	st, err := env.orch.GetNextCall(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != nil {
		t.Fatalf("retry must stay invisible during backoff, got %v", st.CallID)
	}

	env.warpClock(time.Minute)
	st, err = env.orch.GetNextCall(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st == nil || st.CallID != call.ID {
		t.Fatalf("retry must become visible after backoff, got %v", st)
	}
}

func TestRetry_RequeuedBehindFreshWork(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	retrying, _ := env.orch.Schedule(ctx, sp.ID, 0.0, nil)
	env.dialer.failNext = 1
	env.orch.DispatchCall(ctx, retrying.ID)

	fresh, _ := env.orch.Schedule(ctx, sp.ID, 0.0, nil)

	env.warpClock(time.Minute)
	st, _ := env.orch.GetNextCall(ctx)
	if st == nil || st.CallID != fresh.ID {
		t.Fatalf("fresh work must come before retries, got %v", st)
	}
	st, _ = env.orch.GetNextCall(ctx)
	if st == nil || st.CallID != retrying.ID {
		t.Fatalf("retry must follow fresh work, got %v", st)
	}
}

func TestCallFailed_ExhaustedRetriesFailTerminally(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)

	// Три транзиентных провала исчерпывают лимит.
	for i := 0; i < 3; i++ {
		env.dialer.failNext = 1
		if err := env.orch.DispatchCall(ctx, call.ID); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	env.dialer.failNext = 1
	if err := env.orch.DispatchCall(ctx, call.ID); err != nil {
		t.Fatalf("final attempt: %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusFailed {
		t.Fatalf("expected terminal failed, got %s", stored.Status)
	}
	if stored.RetryCount != 3 {
		t.Errorf("retry_count must stop at the limit, got %d", stored.RetryCount)
	}
	if stored.FailureReason == "" {
		t.Error("failure_reason must carry the last error")
	}
	if env.coord.inQueue(call.ID) {
		t.Error("terminally failed call must leave the queue")
	}
	if _, err := env.coord.GetState(ctx, call.ID); !errors.Is(err, coord.ErrStateMissing) {
		t.Error("state must be dropped after terminal failure")
	}
}

// --- Завершение и идемпотентность ---

func TestCallCompleted_HappyPath(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.DispatchCall(ctx, call.ID)

	if err := env.orch.CallCompleted(ctx, call.ID, "verified all fields"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
	if stored.Transcript != "verified all fields" {
		t.Errorf("transcript lost: %q", stored.Transcript)
	}
	if stored.EndedAt == nil {
		t.Error("ended_at must be set")
	}

	if n, _ := env.coord.ActiveCount(ctx); n != 0 {
		t.Errorf("completed call must leave the active set, count %d", n)
	}
	if _, ok := env.specs.verified[sp.ID]; !ok {
		t.Error("specialist must be marked verified after a completed call")
	}
}

func TestCallCompleted_EmptyTranscriptAllowed(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.DispatchCall(ctx, call.ID)

	if err := env.orch.CallCompleted(ctx, call.ID, ""); err != nil {
		t.Fatalf("empty transcript must be accepted: %v", err)
	}
	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
}

func TestCallCompleted_Idempotent(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.DispatchCall(ctx, call.ID)

	env.orch.CallCompleted(ctx, call.ID, "first")
	if err := env.orch.CallCompleted(ctx, call.ID, "second"); err != nil {
		t.Fatalf("duplicate completion must be a no-op: %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Transcript != "first" {
		t.Errorf("first terminal transition must win, transcript %q", stored.Transcript)
	}
}

func TestCallCompleted_DuringBackoffClearsQueueEntry(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.dialer.failNext = 1
	env.orch.DispatchCall(ctx, call.ID)

	// Звонок ждёт backoff в очереди, но сессия всё же отчиталась
	// успехом. Завершение обязано снять и позицию в очереди.
	if err := env.orch.CallCompleted(ctx, call.ID, "late success"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
	if env.coord.inQueue(call.ID) {
		t.Error("completed call must leave the queue")
	}
	if _, err := env.coord.GetState(ctx, call.ID); !errors.Is(err, coord.ErrStateMissing) {
		t.Error("state must be dropped after completion")
	}
}

func TestCallCompleted_ThenFailedIsNoOp(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.DispatchCall(ctx, call.ID)
	env.orch.CallCompleted(ctx, call.ID, "done")

	if err := env.orch.CallFailed(ctx, call.ID, "late failure signal"); err != nil {
		t.Fatalf("failed after completed must be a no-op: %v", err)
	}

	stored := env.calls.get(t, call.ID)
	if stored.Status != domain.CallStatusCompleted {
		t.Errorf("completed must stick, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Errorf("late failure must not consume retries, got %d", stored.RetryCount)
	}
}

func TestCallCompleted_UnknownCall(t *testing.T) {
	env := newTestEnv(10)

	err := env.orch.CallCompleted(context.Background(), uuid.New(), "ghost")
	if !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

// --- Инварианты координации ---

func TestQueueAndActiveAreDisjoint(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)

	// После dispatch: активный, не в очереди.
	env.orch.GetNextCall(ctx)
	env.orch.DispatchCall(ctx, call.ID)
	if env.coord.inQueue(call.ID) {
		t.Error("dispatched call must not be in the queue")
	}
	if n, _ := env.coord.ActiveCount(ctx); n != 1 {
		t.Errorf("dispatched call must be active, count %d", n)
	}

	// После retry: в очереди, не активный.
	env.orch.CallFailed(ctx, call.ID, "no answer")
	if !env.coord.inQueue(call.ID) {
		t.Error("retrying call must be back in the queue")
	}
	if n, _ := env.coord.ActiveCount(ctx); n != 0 {
		t.Errorf("retrying call must not be active, count %d", n)
	}
}

func TestQueueStats(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	call, _ := env.orch.Schedule(ctx, sp.ID, 6.0, nil)
	env.orch.GetNextCall(ctx)
	env.orch.DispatchCall(ctx, call.ID)

	stats, err := env.orch.QueueStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.QueueDepth != 1 || stats.ActiveCalls != 1 {
		t.Errorf("expected depth=1 active=1, got %+v", stats)
	}
}

// --- Reconcile ---

func TestReconcile_RequeuesStuckCall(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.DispatchCall(ctx, call.ID)

	// Отодвигаем started_at в прошлое: сигнал завершения потерян.
	env.calls.mu.Lock()
	stored := env.calls.calls[call.ID]
	past := time.Now().UTC().Add(-time.Hour)
	stored.StartedAt = &past
	env.calls.calls[call.ID] = stored
	env.calls.mu.Unlock()

	if err := env.orch.Reconcile(ctx, 5*time.Minute); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got := env.calls.get(t, call.ID)
	if got.Status != domain.CallStatusQueued {
		t.Errorf("stuck call with retries left must be re-queued, got %s", got.Status)
	}
	if got.FailureReason != ReasonMaxDuration {
		t.Errorf("expected reason %q, got %q", ReasonMaxDuration, got.FailureReason)
	}
	if n, _ := env.coord.ActiveCount(ctx); n != 0 {
		t.Errorf("stuck call must leave the active set, count %d", n)
	}
}

func TestReconcile_ExhaustedStuckCallFailsTerminally(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.DispatchCall(ctx, call.ID)

	env.calls.mu.Lock()
	stored := env.calls.calls[call.ID]
	past := time.Now().UTC().Add(-time.Hour)
	stored.StartedAt = &past
	stored.RetryCount = 3
	env.calls.calls[call.ID] = stored
	env.calls.mu.Unlock()

	if err := env.orch.Reconcile(ctx, 5*time.Minute); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got := env.calls.get(t, call.ID)
	if got.Status != domain.CallStatusFailed {
		t.Errorf("exhausted stuck call must fail terminally, got %s", got.Status)
	}
}

func TestReconcile_ReturnsQueuedActiveMemberToQueue(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	// Запись QUEUED, но id застрял в множестве активных — например,
	// dispatch упал между записью в Redis и откатом в БД.
	call, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.GetNextCall(ctx)
	env.coord.ActiveAdd(ctx, call.ID)

	if err := env.orch.Reconcile(ctx, 5*time.Minute); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if n, _ := env.coord.ActiveCount(ctx); n != 0 {
		t.Errorf("queued record must not hold an active slot, count %d", n)
	}
	if !env.coord.inQueue(call.ID) {
		t.Error("queued record must be returned to the queue")
	}
	if _, err := env.coord.GetState(ctx, call.ID); err != nil {
		t.Errorf("state must survive requeue: %v", err)
	}
}

func TestReconcile_CleansOrphanedActiveMembers(t *testing.T) {
	env := newTestEnv(10)
	ctx := context.Background()
	sp := env.seedSpecialist()

	// Терминальный звонок, застрявший в множестве активных.
	done, _ := env.orch.Schedule(ctx, sp.ID, 5.0, nil)
	env.orch.DispatchCall(ctx, done.ID)
	env.orch.CallCompleted(ctx, done.ID, "done")
	env.coord.ActiveAdd(ctx, done.ID)

	// Член множества без durable-записи вообще.
	ghost := uuid.New()
	env.coord.ActiveAdd(ctx, ghost)

	if err := env.orch.Reconcile(ctx, 5*time.Minute); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if n, _ := env.coord.ActiveCount(ctx); n != 0 {
		members, _ := env.coord.ActiveMembers(ctx)
		t.Errorf("orphaned members must be removed, left %v", members)
	}
}
