package events

import (
	"github.com/truly-network/eventlistener/pkg/db"
)

// RawEvent is a decoded contract event as delivered by the event source.
type RawEvent struct {
	Name            string // Event name from the contract ABI
	TransactionHash string // Hash of the emitting transaction
	SubjectID       string // Token the event refers to; empty for system-wide events
	Payload         string // JSON-encoded arguments, or 0x hex data when they did not decode; opaque
	BlockNumber     uint64
	LogIndex        uint
}

// HasSubject reports whether the event is scoped to a token.
func (e RawEvent) HasSubject() bool { return e.SubjectID != "" }

// Kind identifies the record variant and, through it, the destination table.
type Kind uint8

const (
	KindSubject Kind = iota + 1
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindSubject:
		return "subject"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Record is the storage-ready form of a RawEvent. The only implementations are
// *SubjectRecord and *SystemRecord.
type Record interface {
	Kind() Kind
	ID() int64
	Name() string
	Transaction() string
	// Item returns the attribute map written to the store.
	Item() db.Item
	isRecord()
}

// SubjectRecord is an event tied to a token. Keyed by (SubjectID, EventID).
type SubjectRecord struct {
	SubjectID    string `json:"token"`
	EventID      int64  `json:"eventID"`
	EventName    string `json:"eventName"`
	TxHash       string `json:"transaction"`
	CreationTime string `json:"creationTime"`
	EventInfo    string `json:"eventInfo"`
}

func (r *SubjectRecord) Kind() Kind          { return KindSubject }
func (r *SubjectRecord) ID() int64           { return r.EventID }
func (r *SubjectRecord) Name() string        { return r.EventName }
func (r *SubjectRecord) Transaction() string { return r.TxHash }
func (r *SubjectRecord) isRecord()           {}

func (r *SubjectRecord) Item() db.Item {
	return db.Item{
		db.AttrToken:        r.SubjectID,
		db.AttrEventID:      r.EventID,
		db.AttrEventName:    r.EventName,
		db.AttrTransaction:  r.TxHash,
		db.AttrCreationTime: r.CreationTime,
		db.AttrEventInfo:    r.EventInfo,
	}
}

// SystemRecord is a contract-wide event. Keyed by EventID.
type SystemRecord struct {
	EventID      int64  `json:"eventID"`
	EventName    string `json:"eventName"`
	TxHash       string `json:"transaction"`
	CreationTime string `json:"creationTime"`
}

func (r *SystemRecord) Kind() Kind          { return KindSystem }
func (r *SystemRecord) ID() int64           { return r.EventID }
func (r *SystemRecord) Name() string        { return r.EventName }
func (r *SystemRecord) Transaction() string { return r.TxHash }
func (r *SystemRecord) isRecord()           {}

func (r *SystemRecord) Item() db.Item {
	return db.Item{
		db.AttrEventID:      r.EventID,
		db.AttrEventName:    r.EventName,
		db.AttrTransaction:  r.TxHash,
		db.AttrCreationTime: r.CreationTime,
	}
}

// TableFor returns the table a record of kind k is written to.
func TableFor(names db.TableNames, k Kind) string {
	if k == KindSubject {
		return names.EventsByToken
	}
	return names.EventsSystem
}
