// Package metrics provides delivery health monitoring for chat channels.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// EventType represents the type of chat event being tracked.
type EventType string

const (
	EventMessageReceived EventType = "message_received"
	EventCommandHandled  EventType = "command_handled"
	EventMessageSent     EventType = "message_sent"
	EventMessageEdited   EventType = "message_edited"
	EventDeliveryError   EventType = "delivery_error"
	EventEditError       EventType = "edit_error"
)

// maxRecentErrors bounds the per-chat error history.
const maxRecentErrors = 10

// unhealthyAfter is how long a chat may go without a successful delivery
// while errors keep arriving.
const unhealthyAfter = 5 * time.Minute

// ChatMetrics tracks delivery metrics for one chat.
type ChatMetrics struct {
	mu sync.RWMutex

	// Counters
	received        int64
	commandsHandled int64
	sent            int64
	edited          int64
	deliveryErrors  int64
	editErrors      int64

	// Timing
	lastReceived  time.Time
	lastDelivered time.Time
	lastError     time.Time

	recentErrors []ErrorRecord
}

// ErrorRecord records details of an error.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Error     string    `json:"error"`
	Platform  string    `json:"platform"`
}

// MetricsKey identifies a metric entry (platform + chat ID).
type MetricsKey struct {
	Platform string
	ChatID   string
}

// Registry holds metrics for every chat the relay has talked to.
type Registry struct {
	mu      sync.RWMutex
	metrics map[MetricsKey]*ChatMetrics
	now     func() time.Time
}

// Global registry instance.
var globalRegistry = NewRegistry()

// GetRegistry returns the global metrics registry.
func GetRegistry() *Registry {
	return globalRegistry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[MetricsKey]*ChatMetrics),
		now:     time.Now,
	}
}

// RecordEvent records a chat event.
func (r *Registry) RecordEvent(platform, chatID string, eventType EventType, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := MetricsKey{Platform: platform, ChatID: chatID}
	m, exists := r.metrics[key]
	if !exists {
		m = &ChatMetrics{
			recentErrors: make([]ErrorRecord, 0, maxRecentErrors),
		}
		r.metrics[key] = m
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := r.now()

	switch eventType {
	case EventMessageReceived:
		m.received++
		m.lastReceived = now

	case EventCommandHandled:
		m.commandsHandled++

	case EventMessageSent:
		m.sent++
		m.lastDelivered = now

	case EventMessageEdited:
		m.edited++
		m.lastDelivered = now

	case EventDeliveryError:
		m.deliveryErrors++
		m.lastError = now
		if err != nil {
			m.addErrorRecord(now, eventType, err.Error(), platform)
		}

	case EventEditError:
		m.editErrors++
		m.lastError = now
		if err != nil {
			m.addErrorRecord(now, eventType, err.Error(), platform)
		}
	}
}

// RecordDelivery maps one outbound attempt onto the delivery events.
func (r *Registry) RecordDelivery(platform, chatID string, edit bool, err error) {
	switch {
	case edit && err != nil:
		r.RecordEvent(platform, chatID, EventEditError, err)
	case edit:
		r.RecordEvent(platform, chatID, EventMessageEdited, nil)
	case err != nil:
		r.RecordEvent(platform, chatID, EventDeliveryError, err)
	default:
		r.RecordEvent(platform, chatID, EventMessageSent, nil)
	}
}

// addErrorRecord adds an error to the recent errors list.
func (m *ChatMetrics) addErrorRecord(ts time.Time, eventType EventType, errMsg string, platform string) {
	record := ErrorRecord{
		Timestamp: ts,
		EventType: eventType,
		Error:     errMsg,
		Platform:  platform,
	}

	m.recentErrors = append(m.recentErrors, record)
	if len(m.recentErrors) > maxRecentErrors {
		m.recentErrors = m.recentErrors[1:]
	}
}

func (m *ChatMetrics) snapshot(key MetricsKey, now time.Time) *ChatMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &ChatMetricsSnapshot{
		Platform:        key.Platform,
		ChatID:          key.ChatID,
		Received:        m.received,
		CommandsHandled: m.commandsHandled,
		Sent:            m.sent,
		Edited:          m.edited,
		DeliveryErrors:  m.deliveryErrors,
		EditErrors:      m.editErrors,
		LastReceived:    m.lastReceived,
		LastDelivered:   m.lastDelivered,
		LastError:       m.lastError,
		RecentErrors:    append([]ErrorRecord{}, m.recentErrors...),
		at:              now,
	}
}

// GetMetrics returns a snapshot of metrics for one chat, or nil.
func (r *Registry) GetMetrics(platform, chatID string) *ChatMetricsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := MetricsKey{Platform: platform, ChatID: chatID}
	m, exists := r.metrics[key]
	if !exists {
		return nil
	}
	return m.snapshot(key, r.now())
}

// GetAllMetrics returns snapshots of all chats ordered by platform, then chat.
func (r *Registry) GetAllMetrics() []*ChatMetricsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	result := make([]*ChatMetricsSnapshot, 0, len(r.metrics))
	for key, m := range r.metrics {
		result = append(result, m.snapshot(key, now))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Platform != result[j].Platform {
			return result[i].Platform < result[j].Platform
		}
		return result[i].ChatID < result[j].ChatID
	})
	return result
}

// Clear removes metrics for one chat.
func (r *Registry) Clear(platform, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.metrics, MetricsKey{Platform: platform, ChatID: chatID})
}

// ChatMetricsSnapshot is a thread-safe snapshot of one chat's metrics.
type ChatMetricsSnapshot struct {
	Platform        string        `json:"platform"`
	ChatID          string        `json:"chat_id"`
	Received        int64         `json:"received"`
	CommandsHandled int64         `json:"commands_handled"`
	Sent            int64         `json:"sent"`
	Edited          int64         `json:"edited"`
	DeliveryErrors  int64         `json:"delivery_errors"`
	EditErrors      int64         `json:"edit_errors"`
	LastReceived    time.Time     `json:"last_received"`
	LastDelivered   time.Time     `json:"last_delivered"`
	LastError       time.Time     `json:"last_error"`
	RecentErrors    []ErrorRecord `json:"recent_errors"`

	at time.Time
}

// Attempts is the number of outbound calls, failed or not.
func (s *ChatMetricsSnapshot) Attempts() int64 {
	return s.Sent + s.Edited + s.DeliveryErrors + s.EditErrors
}

// SuccessRate calculates the delivery success rate in percent.
func (s *ChatMetricsSnapshot) SuccessRate() float64 {
	attempts := s.Attempts()
	if attempts == 0 {
		return 100.0
	}
	return float64(s.Sent+s.Edited) / float64(attempts) * 100.0
}

// ErrorRate calculates the delivery error rate in percent.
func (s *ChatMetricsSnapshot) ErrorRate() float64 {
	attempts := s.Attempts()
	if attempts == 0 {
		return 0.0
	}
	return float64(s.DeliveryErrors+s.EditErrors) / float64(attempts) * 100.0
}

// IsHealthy reports false when the latest outcome is an error and nothing
// has been delivered for a while.
func (s *ChatMetricsSnapshot) IsHealthy() bool {
	if s.LastError.IsZero() || s.LastDelivered.After(s.LastError) {
		return true
	}
	if s.LastDelivered.IsZero() {
		return s.Attempts() == 0
	}
	return s.at.Sub(s.LastDelivered) < unhealthyAfter
}
