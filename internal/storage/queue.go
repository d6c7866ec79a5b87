package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/noahxzhu/safealert/internal/model"
)

// QueueStore persists the local work queue as a single JSON document.
type QueueStore struct {
	mu       sync.RWMutex
	filePath string
	Data     *model.QueueSchema
}

func NewQueueStore(filePath string) *QueueStore {
	return &QueueStore{
		filePath: filePath,
		Data:     &model.QueueSchema{Tasks: []*model.Task{}},
	}
}

func (s *QueueStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.Data = &model.QueueSchema{Tasks: []*model.Task{}}
			return nil
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		s.Data = &model.QueueSchema{Tasks: []*model.Task{}}
		return nil
	}

	var schema model.QueueSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if schema.Tasks == nil {
		schema.Tasks = []*model.Task{}
	}

	// A task left Running was interrupted mid-send; hand it back to the queue.
	for _, t := range schema.Tasks {
		if t.Status == model.TaskRunning {
			t.Status = model.TaskPending
		}
	}
	s.Data = &schema
	return nil
}

func (s *QueueStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *QueueStore) save() error {
	data, err := json.MarshalIndent(s.Data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return writeFile(s.filePath, data)
}

func (s *QueueStore) Add(t model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.Status = model.TaskPending
	s.Data.Tasks = append(s.Data.Tasks, &t)
	if err := s.save(); err != nil {
		s.Data.Tasks = s.Data.Tasks[:len(s.Data.Tasks)-1]
		return err
	}
	return nil
}

func (s *QueueStore) Get(id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t := s.find(id); t != nil {
		return *t, nil
	}
	return model.Task{}, ErrNotFound
}

// Claim moves a pending task to Running. Only one of Claim and Cancel can
// succeed for a given task.
func (s *QueueStore) Claim(id string) (model.Task, error) {
	return s.transition(id, model.TaskRunning, func(t *model.Task) {
		t.Attempts++
	})
}

// Cancel moves a pending task to Cancelled.
func (s *QueueStore) Cancel(id string) error {
	_, err := s.transition(id, model.TaskCancelled, func(t *model.Task) {
		t.DoneAt = time.Now()
	})
	return err
}

// Complete records the outcome of a claimed task.
func (s *QueueStore) Complete(id string, sendErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(id)
	if t == nil {
		return ErrNotFound
	}
	if t.Status != model.TaskRunning {
		return ErrNotPending
	}
	t.DoneAt = time.Now()
	if sendErr != nil {
		t.Status = model.TaskFailed
		t.LastError = sendErr.Error()
	} else {
		t.Status = model.TaskDone
		t.LastError = ""
	}
	return s.save()
}

func (s *QueueStore) transition(id string, to model.TaskStatus, mutate func(*model.Task)) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(id)
	if t == nil {
		return model.Task{}, ErrNotFound
	}
	if t.Status != model.TaskPending {
		return model.Task{}, ErrNotPending
	}

	prev := *t
	t.Status = to
	mutate(t)
	if err := s.save(); err != nil {
		*t = prev
		return model.Task{}, err
	}
	return *t, nil
}

// GetPending returns copies of pending tasks carrying tag. An empty tag
// matches every task.
func (s *QueueStore) GetPending(tag string) []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []model.Task
	for _, t := range s.Data.Tasks {
		if t.Status != model.TaskPending {
			continue
		}
		if tag != "" && t.Tag != tag {
			continue
		}
		pending = append(pending, *t)
	}
	return pending
}

func (s *QueueStore) GetAll() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Task, 0, len(s.Data.Tasks))
	for _, t := range s.Data.Tasks {
		result = append(result, *t)
	}
	return result
}

func (s *QueueStore) find(id string) *model.Task {
	for _, t := range s.Data.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
