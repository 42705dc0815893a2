package main

import (
	"sort"
	"sync"
	"time"
)

// MemAccounts is the in-memory Accounts implementation wired into Catbox by
// default when accounts-config is set (see config.go, catbox.go). The
// remaining repositories.go interfaces stay unimplemented on purpose -- see
// DESIGN.md.
type MemAccounts struct {
	mu        sync.Mutex
	passwords map[string]string
}

// NewMemAccounts builds a MemAccounts from account name to plaintext
// password. A production deployment would hash these; this module is not in
// the business of choosing that scheme (see DESIGN.md).
func NewMemAccounts(passwords map[string]string) *MemAccounts {
	m := &MemAccounts{passwords: map[string]string{}}
	for k, v := range passwords {
		m.passwords[k] = v
	}
	return m
}

// Authenticate implements Accounts.
func (m *MemAccounts) Authenticate(account, password string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, exists := m.passwords[account]
	return exists && p == password, nil
}

// AccountExists implements Accounts.
func (m *MemAccounts) AccountExists(account string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.passwords[account]
	return exists, nil
}

// MemMessages is the in-memory Messages implementation wired into Catbox by
// default, backing CHATHISTORY. Bounded per channel by limit -- a restart
// loses history, which is an accepted tradeoff until a persistent backend is
// configured (see DESIGN.md).
type MemMessages struct {
	mu     sync.Mutex
	limit  int
	byChan map[string][]StoredMessage
}

// NewMemMessages builds a MemMessages retaining up to limit messages per
// channel.
func NewMemMessages(limit int) *MemMessages {
	return &MemMessages{
		limit:  limit,
		byChan: map[string][]StoredMessage{},
	}
}

// Record implements Messages.
func (m *MemMessages) Record(channel string, sm StoredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := append(m.byChan[channel], sm)
	if len(entries) > m.limit {
		entries = entries[len(entries)-m.limit:]
	}
	m.byChan[channel] = entries
	return nil
}

// Before implements Messages, returning up to limit messages older than ref,
// oldest first.
func (m *MemMessages) Before(channel string, ref time.Time, limit int) ([]StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []StoredMessage
	for _, sm := range m.byChan[channel] {
		if sm.Timestamp.Before(ref) {
			matches = append(matches, sm)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Timestamp.Before(matches[j].Timestamp)
	})
	if len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	return matches, nil
}

// Latest implements Messages, returning up to limit of the most recent
// messages, oldest first.
func (m *MemMessages) Latest(channel string, limit int) ([]StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.byChan[channel]
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]StoredMessage, len(entries))
	copy(out, entries)
	return out, nil
}
