package events

import (
	"strconv"
	"time"
)

// EventStoredType is the notification type published after a successful write.
const EventStoredType = "event.stored"

// StoredNotification announces a record that has been written to the store.
// It is published to Redis Pub/Sub only after the write succeeded.
type StoredNotification struct {
	Type      string    `json:"type"`      // Always "event.stored"
	NetworkID uint64    `json:"networkId"` // Chain network identifier
	Kind      string    `json:"kind"`      // "subject" or "system"
	Table     string    `json:"table"`     // Destination table
	Timestamp time.Time `json:"timestamp"` // Publication time (UTC)
	Record    Record    `json:"record"`
}

// NewStoredNotification wraps rec for publication.
func NewStoredNotification(networkID uint64, table string, rec Record) StoredNotification {
	return StoredNotification{
		Type:      EventStoredType,
		NetworkID: networkID,
		Kind:      rec.Kind().String(),
		Table:     table,
		Timestamp: time.Now().UTC(),
		Record:    rec,
	}
}

// GetChannel returns the Redis Pub/Sub channel name for a network and event type.
// Channel format: truly:{networkId}:{eventType}
// Example: truly:1:event.stored
func GetChannel(networkID uint64, eventType string) string {
	return "truly:" + strconv.FormatUint(networkID, 10) + ":" + eventType
}

// GetStoredChannel returns the Redis channel for event.stored notifications.
func GetStoredChannel(networkID uint64) string {
	return GetChannel(networkID, EventStoredType)
}
