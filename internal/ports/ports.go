package ports

import (
	"context"
	"time"

	"timetagger-sensors/internal/domain"
)

// RecordsClient fetches TimeTagger records for a time range.
type RecordsClient interface {
	ListRecords(ctx context.Context, from, to time.Time) ([]domain.Record, error)
}

// EntryStore persists config entries. Entries are immutable, so there is no update.
type EntryStore interface {
	AddEntry(ctx context.Context, entry domain.ConfigEntry) error
	ListEntries(ctx context.Context) ([]domain.ConfigEntry, error)
	RemoveEntry(ctx context.Context, entryID string) error
	Close() error
}

// EntityState is the published view of one sensor entity.
type EntityState struct {
	EntryID    string             `json:"entry_id"`
	UniqueID   string             `json:"unique_id"`
	Name       string             `json:"name"`
	Unit       string             `json:"unit_of_measurement"`
	Available  bool               `json:"available"`
	Value      float64            `json:"value"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
	Device     DeviceInfo         `json:"device"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// DeviceInfo groups an entry's entities under one device.
type DeviceInfo struct {
	Identifiers  [][2]string `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
}

// StateSink receives entity states whenever a coordinator update lands.
// Remove is called when an entry's sensor platform unloads.
type StateSink interface {
	PublishStates(ctx context.Context, states []EntityState) error
	RemoveEntry(ctx context.Context, entryID string) error
}
