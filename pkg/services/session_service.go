package services

import (
	"sync"

	"github.com/google/uuid"
)

// CoordinatorFactory builds a fresh coordinator for a new session.
type CoordinatorFactory func() *CoordinatorService

// SessionService はセッションIDごとに独立したコーディネーターを保持します。
// コーディネーター自身はグローバル状態を持たないため、複数セッションが
// 共存できる（各セッションが自分のデータセットと会話履歴を所有する）。
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*CoordinatorService
	factory  CoordinatorFactory
}

// NewSessionService 新しいセッションサービスを作成
func NewSessionService(factory CoordinatorFactory) *SessionService {
	return &SessionService{
		sessions: make(map[string]*CoordinatorService),
		factory:  factory,
	}
}

// GetOrCreate returns the coordinator for the session, creating a session
// (with a generated id) when id is empty or unknown.
func (ss *SessionService) GetOrCreate(id string) (string, *CoordinatorService) {
	if id == "" {
		id = uuid.New().String()
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if coordinator, ok := ss.sessions[id]; ok {
		return id, coordinator
	}
	coordinator := ss.factory()
	ss.sessions[id] = coordinator
	return id, coordinator
}

// Get returns an existing session's coordinator.
func (ss *SessionService) Get(id string) (*CoordinatorService, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	coordinator, ok := ss.sessions[id]
	return coordinator, ok
}

// Reset はセッションの状態（ロード済みフラグと会話履歴）を初期化します。
// セッション自体は残る。
func (ss *SessionService) Reset(id string) bool {
	ss.mu.RLock()
	coordinator, ok := ss.sessions[id]
	ss.mu.RUnlock()
	if !ok {
		return false
	}
	coordinator.Reset()
	return true
}

// Count returns the number of live sessions.
func (ss *SessionService) Count() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}
