package memory

import (
	"context"
	"sync"

	"prep-session-service/internal/domain"
)

// AssignmentStore is an in-memory implementation of app.AssignmentStore plus
// the group-membership collaborator. Content is seeded by demo mode and tests;
// the admin CRUD that maintains it in production is a separate service.
type AssignmentStore struct {
	mu          sync.RWMutex
	assignments map[string]domain.Assignment
	templates   map[string]domain.Template
	groups      map[string]map[string]struct{}
}

func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{
		assignments: make(map[string]domain.Assignment),
		templates:   make(map[string]domain.Template),
		groups:      make(map[string]map[string]struct{}),
	}
}

func (s *AssignmentStore) Assignment(_ context.Context, id string) (domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assignment, ok := s.assignments[id]
	if !ok {
		return domain.Assignment{}, domain.ErrAssignmentNotFound
	}
	return assignment, nil
}

func (s *AssignmentStore) Template(_ context.Context, id string) (domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	template, ok := s.templates[id]
	if !ok {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	return template, nil
}

// IsMember implements visibility.GroupMembership.
func (s *AssignmentStore) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[groupID][userID]
	return ok, nil
}

// PutAssignment seeds an assignment.
func (s *AssignmentStore) PutAssignment(assignment domain.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[assignment.ID] = assignment
}

// PutTemplate seeds a template.
func (s *AssignmentStore) PutTemplate(template domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[template.ID] = template
}

// AddMember seeds a group membership.
func (s *AssignmentStore) AddMember(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.groups[groupID]
	if !ok {
		members = make(map[string]struct{})
		s.groups[groupID] = members
	}
	members[userID] = struct{}{}
}
