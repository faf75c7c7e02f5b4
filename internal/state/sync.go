package state

import (
	"errors"
	"log"
	"time"

	"agentcoord/internal/domain"
	"agentcoord/internal/messaging/inproc"
)

// Directory lists the agents that should hear about state changes.
type Directory interface {
	List() []domain.Agent
}

// Notifier delivers change notifications; inproc.Bus satisfies it.
type Notifier interface {
	Publish(n domain.Notification) error
}

type Synchronizer struct {
	store     *Store
	directory Directory
	notifier  Notifier
	logger    *log.Logger
}

// NewSynchronizer wires the store to a directory. notifier may be nil, in
// which case writes are not announced.
func NewSynchronizer(store *Store, directory Directory, notifier Notifier, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Synchronizer{store: store, directory: directory, notifier: notifier, logger: logger}
}

func (s *Synchronizer) Synchronize(agentID, key string, value any) domain.StateVersion {
	sv := s.store.Set(agentID, key, value)
	s.notify(key, sv)
	return sv
}

func (s *Synchronizer) Latest(key string) (domain.StateVersion, bool) {
	return s.store.Get(key)
}

// Diff returns the latest version of key when agentID has not written it or
// holds an older version.
func (s *Synchronizer) Diff(agentID, key string) (domain.StateVersion, bool) {
	latest, ok := s.store.Get(key)
	if !ok {
		return domain.StateVersion{}, false
	}
	own, ok := s.store.GetForAgent(key, agentID)
	if !ok || own.Version < latest.Version {
		return latest, true
	}
	return domain.StateVersion{}, false
}

func (s *Synchronizer) PendingUpdates(agentID string) map[string]domain.StateVersion {
	out := make(map[string]domain.StateVersion)
	for _, key := range s.store.Keys() {
		if sv, ok := s.Diff(agentID, key); ok {
			out[key] = sv
		}
	}
	return out
}

func (s *Synchronizer) History(key string) []domain.StateVersion {
	return s.store.History(key)
}

func (s *Synchronizer) AgentStates(agentID string) map[string]domain.StateVersion {
	return s.store.AgentStates(agentID)
}

// notify is best-effort: agents without an inbox or with a full one miss the
// push and catch up through PendingUpdates.
func (s *Synchronizer) notify(key string, sv domain.StateVersion) {
	if s.notifier == nil || s.directory == nil {
		return
	}
	for _, agent := range s.directory.List() {
		if agent.ID == sv.AgentID {
			continue
		}
		state := sv
		err := s.notifier.Publish(domain.Notification{
			Kind:      domain.NotificationStateChanged,
			AgentID:   agent.ID,
			Key:       key,
			State:     &state,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil && !errors.Is(err, inproc.ErrAgentNotSubscribed) {
			s.logger.Printf("state notify %s key=%s: %v", agent.ID, key, err)
		}
	}
}
