// Package session tracks which conversations have recent customer activity.
// It is an in-process view used for liveness metrics and the debug API; the
// durable conversation record lives in the memory tier.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vieroc/salespilot/internal/conversation"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	Conversation   conversation.ID `json:"conversation"`
	Status         Status          `json:"status"`
	Channel        string          `json:"channel"`
	MessageCount   int             `json:"message_count"`
	LastBranch     string          `json:"last_branch,omitempty"`
	LastState      string          `json:"last_state,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Observe records one inbound customer message for the conversation,
// creating the session on first contact. It returns true when the session
// was newly created or revived after expiry.
func (m *Manager) Observe(id conversation.ID, channel string) bool {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id.String()]
	if !ok || s.Status != StatusActive {
		m.sessions[id.String()] = &Session{
			Conversation:   id,
			Status:         StatusActive,
			Channel:        channel,
			MessageCount:   1,
			StartedAt:      now,
			LastActivityAt: now,
		}
		return true
	}
	s.MessageCount++
	s.Channel = channel
	s.LastActivityAt = now
	return false
}

// RecordResult stashes the last pipeline result so the debug API can show
// what each live conversation is doing.
func (m *Manager) RecordResult(id conversation.ID, branch, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id.String()]
	if !ok {
		return
	}
	s.LastBranch = branch
	s.LastState = state
	s.LastActivityAt = time.Now().UTC()
}

func (m *Manager) Get(id conversation.ID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) End(id conversation.ID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id.String()]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// Active returns the live sessions sorted by most recent activity.
func (m *Manager) Active() []Session {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			out = append(out, *s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for key, s := range m.sessions {
		if s.Status != StatusActive {
			delete(m.sessions, key)
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		delete(m.sessions, key)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
