package domain

import "time"

const (
	// Domain identifies the integration in entry records and device identifiers.
	Domain = "timetagger"

	DefaultAPIURL      = "https://timetagger-host/timetagger/"
	DefaultWorkTags    = "#work,#home"
	DefaultDailyTarget = 8.0
)

// Entry sources.
const (
	SourceUser = "user"
	SourceEnv  = "env"
)

// ConnectionConfig holds the settings collected by the config flow.
// It is immutable for the lifetime of an entry.
type ConnectionConfig struct {
	APIURL      string  `json:"api_url"`
	Token       string  `json:"token"`
	WorkTags    string  `json:"work_tags"`
	DailyTarget float64 `json:"daily_target"`
}

// ConfigEntry is one configured TimeTagger backend.
type ConfigEntry struct {
	EntryID   string           `json:"entry_id"`
	Domain    string           `json:"domain"`
	Title     string           `json:"title"`
	Version   int              `json:"version"`
	Source    string           `json:"source"`
	Data      ConnectionConfig `json:"data"`
	CreatedAt time.Time        `json:"created_at"`
}
