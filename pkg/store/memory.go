package store

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory keeps everything in process. It backs tests and deployments
// that never set a storage path.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]*memoryProject
}

type memoryProject struct {
	lastSequence int64
	items        map[string]Item
	agents       map[string]Agent
}

func NewMemory() *Memory {
	return &Memory{projects: make(map[string]*memoryProject)}
}

// project returns the named project, creating it if needed. Callers
// hold mu for writing.
func (m *Memory) project(id string) *memoryProject {
	p := m.projects[id]
	if p == nil {
		p = &memoryProject{
			items:  make(map[string]Item),
			agents: make(map[string]Agent),
		}
		m.projects[id] = p
	}
	return p
}

func (m *Memory) SaveItem(_ context.Context, projectID string, item Item) error {
	if projectID == "" || item.Key == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.project(projectID).items[item.Key] = item
	return nil
}

func (m *Memory) GetItems(_ context.Context, projectID string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.projects[projectID]
	if p == nil {
		return nil, nil
	}
	items := make([]Item, 0, len(p.items))
	for _, item := range p.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.Key, b.Key) })
	return items, nil
}

func (m *Memory) SaveAgent(_ context.Context, projectID string, agent Agent) error {
	if projectID == "" || agent.ID == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.project(projectID).agents[agent.ID] = agent
	return nil
}

func (m *Memory) SaveCursor(_ context.Context, projectID, agentID string, cursor int64) error {
	if projectID == "" || agentID == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projects[projectID]
	if p == nil {
		return nil
	}
	if agent, ok := p.agents[agentID]; ok {
		agent.Cursor = cursor
		p.agents[agentID] = agent
	}
	return nil
}

func (m *Memory) DeleteAgent(_ context.Context, projectID, agentID string) error {
	if projectID == "" || agentID == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.projects[projectID]; p != nil {
		delete(p.agents, agentID)
	}
	return nil
}

func (m *Memory) GetAgents(_ context.Context, projectID string) ([]Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.projects[projectID]
	if p == nil {
		return nil, nil
	}
	agents := make([]Agent, 0, len(p.agents))
	for _, agent := range p.agents {
		agents = append(agents, agent)
	}
	slices.SortFunc(agents, func(a, b Agent) int { return strings.Compare(a.ID, b.ID) })
	return agents, nil
}

func (m *Memory) SaveSequence(_ context.Context, projectID string, seq int64) error {
	if projectID == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.project(projectID).lastSequence = seq
	return nil
}

func (m *Memory) GetProjects(_ context.Context) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	projects := make([]Project, 0, len(m.projects))
	for id, p := range m.projects {
		projects = append(projects, Project{ID: id, LastSequence: p.lastSequence})
	}
	slices.SortFunc(projects, func(a, b Project) int { return strings.Compare(a.ID, b.ID) })
	return projects, nil
}

func (m *Memory) DeleteProject(_ context.Context, projectID string) error {
	if projectID == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectID)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
