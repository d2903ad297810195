// Package history keeps a short per-session record of recent exchanges
// so follow-up questions can reference prior answers and the show-sql /
// export intents have something to serve.
package history

import (
	"sync"
	"time"

	"github.com/kyleking/askmetrics/internal/executor"
)

const (
	defaultLimit   = 5
	defaultIdleTTL = 30 * time.Minute
)

// Exchange is one question and its answer within a session
type Exchange struct {
	Question string           `json:"question"`
	SQL      string           `json:"sql,omitempty"`
	Summary  string           `json:"summary,omitempty"`
	Result   *executor.Result `json:"result,omitempty"`
	AskedAt  time.Time        `json:"asked_at"`
}

type session struct {
	exchanges []Exchange
	touchedAt time.Time
}

// Store holds per-session exchange rings in memory. Each session keeps
// at most the configured number of exchanges; idle sessions are swept.
type Store struct {
	limit   int
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// NewStore creates a history store. Non-positive arguments fall back to
// defaults.
func NewStore(limit int, idleTTL time.Duration) *Store {
	if limit <= 0 {
		limit = defaultLimit
	}

	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}

	return &Store{
		limit:    limit,
		idleTTL:  idleTTL,
		sessions: make(map[string]*session),
	}
}

// Append records an exchange, evicting the oldest when the session is
// at its limit
func (s *Store) Append(sessionID string, exchange Exchange) {
	if sessionID == "" {
		return
	}

	if exchange.AskedAt.IsZero() {
		exchange.AskedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{}
		s.sessions[sessionID] = sess
	}

	sess.exchanges = append(sess.exchanges, exchange)
	if len(sess.exchanges) > s.limit {
		sess.exchanges = sess.exchanges[len(sess.exchanges)-s.limit:]
	}

	sess.touchedAt = time.Now()
}

// Exchanges returns a copy of the session's exchanges, oldest first
func (s *Store) Exchanges(sessionID string) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}

	sess.touchedAt = time.Now()

	out := make([]Exchange, len(sess.exchanges))
	copy(out, sess.exchanges)

	return out
}

// Questions returns the session's recent question texts, oldest first.
// This is the conversational context handed to prompt grounding.
func (s *Store) Questions(sessionID string) []string {
	exchanges := s.Exchanges(sessionID)
	if len(exchanges) == 0 {
		return nil
	}

	questions := make([]string, 0, len(exchanges))
	for _, e := range exchanges {
		questions = append(questions, e.Question)
	}

	return questions
}

// LastSQL returns the most recent exchange that produced SQL
func (s *Store) LastSQL(sessionID string) (string, bool) {
	exchanges := s.Exchanges(sessionID)

	for i := len(exchanges) - 1; i >= 0; i-- {
		if exchanges[i].SQL != "" {
			return exchanges[i].SQL, true
		}
	}

	return "", false
}

// LastResult returns the most recent exchange that carried result rows
func (s *Store) LastResult(sessionID string) (*executor.Result, bool) {
	exchanges := s.Exchanges(sessionID)

	for i := len(exchanges) - 1; i >= 0; i-- {
		if exchanges[i].Result != nil {
			return exchanges[i].Result, true
		}
	}

	return nil, false
}

// Clear removes one session's history
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
}

// Sweep drops sessions idle past the TTL and reports how many went
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.idleTTL)
	removed := 0

	for id, sess := range s.sessions {
		if sess.touchedAt.Before(cutoff) {
			delete(s.sessions, id)

			removed++
		}
	}

	return removed
}

// Sessions reports the number of live sessions
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}
