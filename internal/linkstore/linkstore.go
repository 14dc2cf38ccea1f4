// Package linkstore tracks the many-to-many association between customer
// emails and Payment Account References (PARs). The map is symmetric by
// construction: linking an email to a PAR inserts both directions under
// one lock, so readers can never observe one side without the other.
//
// Entries are append-only for the process lifetime. The Store interface
// in the engine package is the substitution point for a shared backend.
package linkstore

import (
	"sort"
	"strings"
	"sync"
)

// Store is an in-memory bidirectional email↔PAR map, safe for concurrent
// readers and writers.
type Store struct {
	mu          sync.RWMutex
	parsByEmail map[string]map[string]struct{}
	emailsByPAR map[string]map[string]struct{}
}

// New creates an empty link store.
func New() *Store {
	return &Store{
		parsByEmail: make(map[string]map[string]struct{}),
		emailsByPAR: make(map[string]map[string]struct{}),
	}
}

// Link records that email and par were observed on the same event.
// No-op when either side is blank.
func (s *Store) Link(email, par string) {
	email = strings.TrimSpace(email)
	par = strings.TrimSpace(par)
	if email == "" || par == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pars, ok := s.parsByEmail[email]
	if !ok {
		pars = make(map[string]struct{})
		s.parsByEmail[email] = pars
	}
	pars[par] = struct{}{}

	emails, ok := s.emailsByPAR[par]
	if !ok {
		emails = make(map[string]struct{})
		s.emailsByPAR[par] = emails
	}
	emails[email] = struct{}{}
}

// PARsForEmail returns a sorted snapshot of the PARs linked to email.
// Empty slice when the email is unknown.
func (s *Store) PARsForEmail(email string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.parsByEmail[strings.TrimSpace(email)])
}

// EmailsForPAR returns a sorted snapshot of the emails linked to par.
func (s *Store) EmailsForPAR(par string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.emailsByPAR[strings.TrimSpace(par)])
}

// PARCount returns how many distinct PARs are linked to email.
func (s *Store) PARCount(email string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.parsByEmail[strings.TrimSpace(email)])
}

// EmailCount returns how many distinct emails are linked to par.
func (s *Store) EmailCount(par string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.emailsByPAR[strings.TrimSpace(par)])
}

// sortedKeys copies a set into a sorted slice so iteration order is
// stable for alert construction and tests.
func sortedKeys(set map[string]struct{}) []string {
	result := make([]string, 0, len(set))
	for k := range set {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}
