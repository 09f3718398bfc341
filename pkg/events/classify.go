package events

import (
	"time"

	"github.com/truly-network/eventlistener/pkg/rowid"
)

// ISOMillis is the creationTime layout: ISO-8601, millisecond precision, UTC.
const ISOMillis = "2006-01-02T15:04:05.000Z07:00"

// DefaultShard is the id shard used by a single listener process.
const DefaultShard = 0

// Classifier turns raw events into storage records.
type Classifier struct {
	gen *rowid.Generator
	now func() time.Time
}

// NewClassifier returns a Classifier drawing ids from shard.
func NewClassifier(shard int) (*Classifier, error) {
	gen, err := rowid.NewGenerator(shard)
	if err != nil {
		return nil, err
	}
	return &Classifier{gen: gen, now: time.Now}, nil
}

// Classify builds the record for raw. Events carrying a subject become a
// *SubjectRecord, all others a *SystemRecord. Every call draws a fresh event id
// and stamps the current time, so classifying the same event twice yields two
// distinct records.
func (c *Classifier) Classify(raw RawEvent) Record {
	id := c.gen.Next()
	created := c.now().UTC().Format(ISOMillis)

	if raw.HasSubject() {
		return &SubjectRecord{
			SubjectID:    raw.SubjectID,
			EventID:      id,
			EventName:    raw.Name,
			TxHash:       raw.TransactionHash,
			CreationTime: created,
			EventInfo:    raw.Payload,
		}
	}
	return &SystemRecord{
		EventID:      id,
		EventName:    raw.Name,
		TxHash:       raw.TransactionHash,
		CreationTime: created,
	}
}
