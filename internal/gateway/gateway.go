package gateway

import (
	"context"
	"errors"
)

// ErrDispatchFailed — шлюз не смог создать сессию или набрать ногу.
// Транзиентная ошибка: звонок подлежит retry.
var ErrDispatchFailed = errors.New("dispatch failed")

// LegRequest — параметры исходящей ноги звонка.
type LegRequest struct {
	// SessionID — сессия, в которую подключается нога.
	SessionID string `json:"session_id"`

	// TrunkID — исходящий SIP-транк.
	TrunkID string `json:"trunk_id"`

	// Destination — номер вызываемого в формате E.164.
	Destination string `json:"destination"`

	// ParticipantIdentity — идентификатор участника в сессии.
	ParticipantIdentity string `json:"participant_identity"`
}

// Dialer — контракт шлюза.
//
// Оба вызова вместе образуют одну попытку dispatch; состояние между
// ними шлюз держит сам (сессия живёт до подключения ноги).
type Dialer interface {
	// CreateSession создаёт голосовую сессию с метаданными для агента.
	CreateSession(ctx context.Context, sessionID string, metadata map[string]string) error

	// PlaceOutboundLeg набирает номер и подключает его к сессии.
	PlaceOutboundLeg(ctx context.Context, req LegRequest) error
}
