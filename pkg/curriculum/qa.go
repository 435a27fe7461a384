package curriculum

import (
	"time"

	"github.com/imjszhang/wiseflow/pkg/cache"
)

// QAPair is a question/concept pair with an optional answer, used only to
// build task context.
type QAPair struct {
	Question  string `json:"question"`
	Concept   string `json:"concept"`
	Answer    string `json:"answer,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// QAManager bounds the QA pair lifetime with the shared usage-counted cache.
type QAManager struct {
	pairs *cache.LRU[*QAPair]
}

// NewQAManager creates a manager holding at most cacheSize pairs.
func NewQAManager(cacheSize int) *QAManager {
	return &QAManager{pairs: cache.NewLRU[*QAPair](cacheSize)}
}

// AddPair stores a new question/concept pair.
func (m *QAManager) AddPair(question, concept string) {
	m.pairs.Add(question, &QAPair{
		Question:  question,
		Concept:   concept,
		Timestamp: time.Now().Unix(),
	})
}

// GetPair retrieves a pair by question.
func (m *QAManager) GetPair(question string) (*QAPair, bool) {
	return m.pairs.Get(question)
}

// UpdateAnswer sets the answer for an existing question.
func (m *QAManager) UpdateAnswer(question, answer string) {
	if pair, ok := m.pairs.Get(question); ok {
		pair.Answer = answer
		pair.Timestamp = time.Now().Unix()
	}
}

// ToMap serializes all pairs for persistence.
func (m *QAManager) ToMap() map[string]*QAPair {
	out := make(map[string]*QAPair)
	for _, q := range m.pairs.Keys() {
		if pair, ok := m.pairs.Get(q); ok {
			out[q] = pair
		}
	}
	return out
}

// LoadMap restores pairs from a persisted map.
func (m *QAManager) LoadMap(data map[string]*QAPair) {
	for q, pair := range data {
		m.pairs.Add(q, pair)
	}
}
