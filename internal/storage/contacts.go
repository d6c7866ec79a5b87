package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/noahxzhu/safealert/internal/model"
)

// ContactStore keeps the emergency contact list as a JSON array on disk.
// Every mutation rewrites the whole file. Contacts are identified by the key
// function applied to their phone number.
type ContactStore struct {
	mu       sync.RWMutex
	filePath string
	key      func(phone string) string
	contacts []model.Contact
}

func NewContactStore(filePath string, key func(phone string) string) *ContactStore {
	if key == nil {
		key = strings.TrimSpace
	}
	return &ContactStore{
		filePath: filePath,
		key:      key,
		contacts: []model.Contact{},
	}
}

func (s *ContactStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.contacts = []model.Contact{}
			return nil
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		s.contacts = []model.Contact{}
		return nil
	}

	var contacts []model.Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return fmt.Errorf("failed to unmarshal contacts: %w", err)
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	s.contacts = contacts
	return nil
}

// save must be called with the lock held.
func (s *ContactStore) save() error {
	data, err := json.MarshalIndent(s.contacts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}
	return writeFile(s.filePath, data)
}

func (s *ContactStore) List() []model.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Contact, len(s.contacts))
	copy(result, s.contacts)
	return result
}

func (s *ContactStore) Get(phone string) (model.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(phone); i >= 0 {
		return s.contacts[i], nil
	}
	return model.Contact{}, ErrNotFound
}

// Upsert adds c, or replaces the contact with the same phone. It reports
// whether a new contact was created.
func (s *ContactStore) Upsert(c model.Contact) (bool, error) {
	c, err := clean(c)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snapshot()
	created := false
	if i := s.indexOf(c.Phone); i >= 0 {
		s.contacts[i] = c
	} else {
		s.contacts = append(s.contacts, c)
		created = true
	}

	if err := s.save(); err != nil {
		s.contacts = prev
		return false, err
	}
	return created, nil
}

// Update replaces the contact stored under phone with c. c may carry a new
// phone number, in which case any other contact already using it is dropped.
func (s *ContactStore) Update(phone string, c model.Contact) error {
	c, err := clean(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(phone)
	if i < 0 {
		return ErrNotFound
	}

	prev := s.snapshot()
	s.contacts[i] = c
	if s.key(phone) != s.key(c.Phone) {
		kept := s.contacts[:0:0]
		for j, other := range s.contacts {
			if j != i && s.key(other.Phone) == s.key(c.Phone) {
				continue
			}
			kept = append(kept, other)
		}
		s.contacts = kept
	}

	if err := s.save(); err != nil {
		s.contacts = prev
		return err
	}
	return nil
}

func (s *ContactStore) Remove(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(phone)
	if i < 0 {
		return ErrNotFound
	}

	prev := s.snapshot()
	s.contacts = append(s.contacts[:i:i], s.contacts[i+1:]...)

	if err := s.save(); err != nil {
		s.contacts = prev
		return err
	}
	return nil
}

func (s *ContactStore) indexOf(phone string) int {
	k := s.key(phone)
	for i, c := range s.contacts {
		if s.key(c.Phone) == k {
			return i
		}
	}
	return -1
}

func (s *ContactStore) snapshot() []model.Contact {
	prev := make([]model.Contact, len(s.contacts))
	copy(prev, s.contacts)
	return prev
}

func clean(c model.Contact) (model.Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	if c.Name == "" || c.Phone == "" {
		return c, ErrInvalidContact
	}
	return c, nil
}
