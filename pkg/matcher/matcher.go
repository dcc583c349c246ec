// Package matcher tracks which published items satisfy which agent
// needs. It works purely on vectors handed to it; embedding happens
// upstream.
package matcher

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/contexhq/contex/pkg/embedding"
)

// DefaultThreshold is the minimum cosine similarity for a match.
const DefaultThreshold = 0.30

// Need is an embedded data need of an agent.
type Need struct {
	Text   string
	Vector []float32
}

// Item is a published entry as the matcher sees it.
type Item struct {
	Key      string
	Vector   []float32
	Sequence int64
}

// Match is one item matched under a need.
type Match struct {
	Key        string
	Similarity float64
	Sequence   int64
}

// Notification says that a publish matched an agent, and under which of
// its needs. A publish produces at most one notification per agent no
// matter how many needs match.
type Notification struct {
	AgentID      string
	MatchedNeeds []string
}

type agentState struct {
	needs   []Need
	matches map[string]map[string]Match // need text → data key → match
}

// Matcher holds per-agent match state for one project.
type Matcher struct {
	mu        sync.RWMutex
	threshold float64
	agents    map[string]*agentState
}

// New creates a matcher. A threshold ≤ 0 uses DefaultThreshold.
func New(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{
		threshold: threshold,
		agents:    make(map[string]*agentState),
	}
}

// Threshold returns the similarity cutoff.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Register replaces the agent's needs and seeds its match state from
// the current items. The returned snapshot maps every need text to its
// matches ordered by descending similarity; needs with no matches map
// to an empty list. Duplicate need texts collapse to the first
// occurrence.
func (m *Matcher) Register(agentID string, needs []Need, items []Item) map[string][]Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := &agentState{matches: make(map[string]map[string]Match)}
	snapshot := make(map[string][]Match, len(needs))

	for _, need := range needs {
		if _, seen := state.matches[need.Text]; seen {
			continue
		}
		state.needs = append(state.needs, need)
		state.matches[need.Text] = make(map[string]Match)
		snapshot[need.Text] = []Match{}

		for _, item := range items {
			sim := embedding.Cosine(need.Vector, item.Vector)
			if sim < m.threshold {
				continue
			}
			match := Match{Key: item.Key, Similarity: sim, Sequence: item.Sequence}
			state.matches[need.Text][item.Key] = match
			snapshot[need.Text] = append(snapshot[need.Text], match)
		}
		sortMatches(snapshot[need.Text])
	}

	m.agents[agentID] = state
	return snapshot
}

// Unregister drops the agent's state and reports whether it existed.
func (m *Matcher) Unregister(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.agents[agentID]
	delete(m.agents, agentID)
	return ok
}

// Publish folds a new or updated item into every agent's match state.
// An item that no longer reaches the threshold is removed without a
// notification; the agent keeps observing current values, not set
// membership changes. Notifications come back ordered by agent ID.
func (m *Matcher) Publish(item Item) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	agentIDs := make([]string, 0, len(m.agents))
	for id := range m.agents {
		agentIDs = append(agentIDs, id)
	}
	slices.Sort(agentIDs)

	var notifications []Notification
	for _, id := range agentIDs {
		state := m.agents[id]
		var matched []string
		for _, need := range state.needs {
			sim := embedding.Cosine(need.Vector, item.Vector)
			if sim >= m.threshold {
				state.matches[need.Text][item.Key] = Match{Key: item.Key, Similarity: sim, Sequence: item.Sequence}
				matched = append(matched, need.Text)
			} else {
				delete(state.matches[need.Text], item.Key)
			}
		}
		if len(matched) > 0 {
			notifications = append(notifications, Notification{AgentID: id, MatchedNeeds: matched})
		}
	}
	return notifications
}

// Matches returns the agent's current matches grouped by need, each
// list ordered by descending similarity.
func (m *Matcher) Matches(agentID string) (map[string][]Match, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.agents[agentID]
	if !ok {
		return nil, false
	}

	result := make(map[string][]Match, len(state.needs))
	for _, need := range state.needs {
		matches := make([]Match, 0, len(state.matches[need.Text]))
		for _, match := range state.matches[need.Text] {
			matches = append(matches, match)
		}
		sortMatches(matches)
		result[need.Text] = matches
	}
	return result, true
}

func sortMatches(matches []Match) {
	slices.SortFunc(matches, func(a, b Match) int {
		return cmp.Or(
			cmp.Compare(b.Similarity, a.Similarity),
			strings.Compare(a.Key, b.Key),
		)
	})
}
