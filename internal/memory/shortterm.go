package memory

import (
	"sync"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
)

// ShortTerm is the append-only conversation log, bounded by maxMessages
// with oldest-first eviction. Lookup by message id is O(1).
type ShortTerm struct {
	maxMessages int

	mu          sync.RWMutex
	messages    []providers.Message
	index       map[string]int // message id → slice position
	roleCounts  map[string]int
	totalTokens int
}

func NewShortTerm(maxMessages int) *ShortTerm {
	if maxMessages <= 0 {
		maxMessages = 1000
	}
	return &ShortTerm{
		maxMessages: maxMessages,
		index:       make(map[string]int),
		roleCounts:  make(map[string]int),
	}
}

// Add appends a message, evicting the oldest when full.
func (s *ShortTerm) Add(msg providers.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) >= s.maxMessages {
		evicted := s.messages[0]
		s.messages = s.messages[1:]
		s.roleCounts[evicted.Role]--
		s.totalTokens -= evicted.Tokens()
		delete(s.index, evicted.ID)
		// Positions shifted; rebuild the index.
		for i := range s.messages {
			s.index[s.messages[i].ID] = i
		}
	}

	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.roleCounts[msg.Role]++
	s.totalTokens += msg.Tokens()
}

// Get returns a message by id.
func (s *ShortTerm) Get(id string) (providers.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return providers.Message{}, false
	}
	return s.messages[i], true
}

// Messages returns a copy of the log, oldest first.
func (s *ShortTerm) Messages() []providers.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]providers.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ByRole returns the messages with the given role, in order.
func (s *ShortTerm) ByRole(role string) []providers.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []providers.Message
	for i := range s.messages {
		if s.messages[i].Role == role {
			out = append(out, s.messages[i])
		}
	}
	return out
}

// Replace swaps the whole log (used after compression rewrites history).
func (s *ShortTerm) Replace(msgs []providers.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]providers.Message, len(msgs))
	copy(s.messages, msgs)
	s.index = make(map[string]int, len(msgs))
	s.roleCounts = make(map[string]int)
	s.totalTokens = 0
	for i := range s.messages {
		s.index[s.messages[i].ID] = i
		s.roleCounts[s.messages[i].Role]++
		s.totalTokens += s.messages[i].Tokens()
	}
}

// Clear drops all messages.
func (s *ShortTerm) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.index = make(map[string]int)
	s.roleCounts = make(map[string]int)
	s.totalTokens = 0
}

func (s *ShortTerm) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *ShortTerm) TotalTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalTokens
}

func (s *ShortTerm) RoleCount(role string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roleCounts[role]
}

// APIMessage is the wire-shape view of a message: internal bookkeeping
// fields dropped.
type APIMessage struct {
	Role      string                   `json:"role"`
	Content   string                   `json:"content,omitempty"`
	Blocks    []providers.ContentBlock `json:"blocks,omitempty"`
	ToolUseID string                   `json:"tool_use_id,omitempty"`
}

// APIView renders the log in API shape.
func (s *ShortTerm) APIView() []APIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]APIMessage, 0, len(s.messages))
	for i := range s.messages {
		m := &s.messages[i]
		out = append(out, APIMessage{
			Role:      m.Role,
			Content:   m.Content,
			Blocks:    m.Blocks,
			ToolUseID: m.ToolUseID,
		})
	}
	return out
}
