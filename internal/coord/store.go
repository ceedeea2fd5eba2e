package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStateMissing — Hash состояния звонка отсутствует в Redis
// (потерян при рестарте или звонок никогда не ставился в очередь).
var ErrStateMissing = errors.New("call state missing")

// Store — клиент координационного хранилища.
//
// Каждый экземпляр владеет своим соединением: создаётся через New,
// освобождается через Close. Глобального хэндла нет.
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// New создаёт Store по URL Redis и проверяет соединение.
func New(ctx context.Context, url string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Store{client: client, logger: logger}, nil
}

// Close закрывает соединение с Redis.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping проверяет доступность Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// --- Приоритетная очередь ---

// Enqueue добавляет звонок в очередь с указанным score.
func (s *Store) Enqueue(ctx context.Context, callID uuid.UUID, score float64) error {
	err := s.client.ZAdd(ctx, keyQueue, redis.Z{Score: score, Member: callID.String()}).Err()
	if err != nil {
		return fmt.Errorf("enqueue call: %w", err)
	}
	return nil
}

// gatedPopScript — атомарный "проверить лимит → снять максимум".
//
// Проверка количества активных и ZPOPMAX выполняются одним вызовом,
// поэтому два конкурирующих вызова не могут вместе превысить лимит.
// Записи с ready_at в будущем (retry на backoff) откладываются и
// возвращаются в очередь тем же скриптом; просмотр ограничен 64
// верхними записями за вызов.
//
// KEYS[1] = queue zset, KEYS[2] = active set
// ARGV[1] = max active, ARGV[2] = now (unix), ARGV[3] = state key prefix
var gatedPopScript = redis.NewScript(`
if redis.call('SCARD', KEYS[2]) >= tonumber(ARGV[1]) then
  return false
end
local deferred = {}
local picked = false
for i = 1, 64 do
  local popped = redis.call('ZPOPMAX', KEYS[1])
  if #popped == 0 then break end
  local id, score = popped[1], popped[2]
  local ready = redis.call('HGET', ARGV[3] .. id, 'ready_at')
  if ready and tonumber(ready) > tonumber(ARGV[2]) then
    deferred[#deferred + 1] = {score, id}
  else
    picked = id
    break
  end
end
for _, e in ipairs(deferred) do
  redis.call('ZADD', KEYS[1], e[1], e[2])
end
return picked
`)

// GatedPop снимает из очереди звонок с максимальным score, если число
// активных звонков меньше maxActive.
//
// Возвращает (id, true, nil) при успехе и (zero, false, nil), если
// лимит конкурентности достигнут, очередь пуста или все верхние записи
// ещё ждут backoff. Последнее — штатный flow-control, не ошибка.
func (s *Store) GatedPop(ctx context.Context, maxActive int) (uuid.UUID, bool, error) {
	res, err := gatedPopScript.Run(ctx, s.client,
		[]string{keyQueue, keyActive},
		maxActive, time.Now().Unix(), keyStatePrefix,
	).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("gated pop: %w", err)
	}

	raw, ok := res.(string)
	if !ok {
		return uuid.Nil, false, nil
	}
	callID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse popped call id %q: %w", raw, err)
	}
	return callID, true, nil
}

// QueueDepth возвращает размер очереди.
func (s *Store) QueueDepth(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, keyQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// RemoveQueued убирает звонок из очереди, не трогая остальное состояние.
func (s *Store) RemoveQueued(ctx context.Context, callID uuid.UUID) error {
	if err := s.client.ZRem(ctx, keyQueue, callID.String()).Err(); err != nil {
		return fmt.Errorf("remove queued: %w", err)
	}
	return nil
}

// --- Множество активных звонков ---

// ActiveAdd добавляет звонок в множество активных.
func (s *Store) ActiveAdd(ctx context.Context, callID uuid.UUID) error {
	if err := s.client.SAdd(ctx, keyActive, callID.String()).Err(); err != nil {
		return fmt.Errorf("active add: %w", err)
	}
	return nil
}

// ActiveRemove убирает звонок из множества активных. No-op, если его там нет.
func (s *Store) ActiveRemove(ctx context.Context, callID uuid.UUID) error {
	if err := s.client.SRem(ctx, keyActive, callID.String()).Err(); err != nil {
		return fmt.Errorf("active remove: %w", err)
	}
	return nil
}

// ActiveCount возвращает число активных звонков.
func (s *Store) ActiveCount(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, keyActive).Result()
	if err != nil {
		return 0, fmt.Errorf("active count: %w", err)
	}
	return n, nil
}

// ActiveMembers возвращает идентификаторы всех активных звонков.
func (s *Store) ActiveMembers(ctx context.Context) ([]uuid.UUID, error) {
	raw, err := s.client.SMembers(ctx, keyActive).Result()
	if err != nil {
		return nil, fmt.Errorf("active members: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			s.logger.Warn("skipping malformed active member", "member", r)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// --- Состояние звонка ---

// SaveState сохраняет полный снимок состояния звонка.
func (s *Store) SaveState(ctx context.Context, st *CallState) error {
	fields, err := st.toMap()
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, stateKey(st.CallID.String()), fields).Err(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// GetState загружает состояние звонка.
// Возвращает ErrStateMissing, если Hash отсутствует.
func (s *Store) GetState(ctx context.Context, callID uuid.UUID) (*CallState, error) {
	fields, err := s.client.HGetAll(ctx, stateKey(callID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("call %s: %w", callID, ErrStateMissing)
	}
	return stateFromMap(fields)
}

// UpdateState обновляет отдельные поля состояния звонка.
func (s *Store) UpdateState(ctx context.Context, callID uuid.UUID, fields map[string]string) error {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := s.client.HSet(ctx, stateKey(callID.String()), values).Err(); err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

// DropState удаляет Hash состояния (после терминального перехода
// состояние больше не нужно для координации).
func (s *Store) DropState(ctx context.Context, callID uuid.UUID) error {
	if err := s.client.Del(ctx, stateKey(callID.String())).Err(); err != nil {
		return fmt.Errorf("drop state: %w", err)
	}
	return nil
}
