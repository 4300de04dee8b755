package store

import (
	"fmt"
	"time"
)

// SyncDataType represents the type of data being tracked for freshness.
type SyncDataType string

const (
	SyncTypeObservations SyncDataType = "observations"
	SyncTypeEvents       SyncDataType = "events"
	SyncTypeBacktest     SyncDataType = "backtest"
	SyncTypeForecasts    SyncDataType = "forecasts"
	SyncTypeDrift        SyncDataType = "drift"
)

// DataFreshness represents the freshness of stored data.
type DataFreshness struct {
	DataType    SyncDataType
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// FreshnessConfig holds staleness thresholds per data type.
type FreshnessConfig struct {
	StaleThresholds map[SyncDataType]time.Duration
}

// DefaultFreshnessConfig returns default staleness thresholds.
func DefaultFreshnessConfig() *FreshnessConfig {
	return &FreshnessConfig{
		StaleThresholds: map[SyncDataType]time.Duration{
			SyncTypeObservations: 2 * time.Hour,
			SyncTypeEvents:       7 * 24 * time.Hour,
			SyncTypeBacktest:     7 * 24 * time.Hour,
			SyncTypeForecasts:    24 * time.Hour,
			SyncTypeDrift:        2 * time.Hour,
		},
	}
}

// FreshnessTracker records when each data type was last refreshed.
type FreshnessTracker struct {
	store  DataStore
	config *FreshnessConfig
	now    func() time.Time
}

// NewFreshnessTracker creates a tracker backed by the store's sync table.
func NewFreshnessTracker(store DataStore, config *FreshnessConfig) *FreshnessTracker {
	if config == nil {
		config = DefaultFreshnessConfig()
	}
	return &FreshnessTracker{store: store, config: config, now: time.Now}
}

func (ft *FreshnessTracker) threshold(dataType SyncDataType) time.Duration {
	if th, ok := ft.config.StaleThresholds[dataType]; ok && th > 0 {
		return th
	}
	return time.Hour
}

// GetDataFreshness returns the freshness status of a data type.
func (ft *FreshnessTracker) GetDataFreshness(dataType SyncDataType) *DataFreshness {
	lastSync := ft.store.GetLastSync(string(dataType))
	f := &DataFreshness{DataType: dataType, LastUpdated: lastSync}
	if lastSync.IsZero() {
		return f
	}
	f.Age = ft.now().Sub(lastSync)
	f.IsFresh = f.Age < ft.threshold(dataType)
	return f
}

// GetAllDataFreshness returns freshness status for all configured data types.
func (ft *FreshnessTracker) GetAllDataFreshness() map[SyncDataType]*DataFreshness {
	result := make(map[SyncDataType]*DataFreshness, len(ft.config.StaleThresholds))
	for dataType := range ft.config.StaleThresholds {
		result[dataType] = ft.GetDataFreshness(dataType)
	}
	return result
}

// IsDataStale checks if a specific data type is stale.
func (ft *FreshnessTracker) IsDataStale(dataType SyncDataType) bool {
	return !ft.GetDataFreshness(dataType).IsFresh
}

// MarkSynced marks a data type as refreshed now.
func (ft *FreshnessTracker) MarkSynced(dataType SyncDataType) error {
	if err := ft.store.SetLastSync(string(dataType), ft.now()); err != nil {
		return fmt.Errorf("failed to mark %s as synced: %w", dataType, err)
	}
	return nil
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(freshness *DataFreshness) string {
	if freshness.LastUpdated.IsZero() {
		return fmt.Sprintf("%s: never updated", freshness.DataType)
	}

	age := freshness.Age
	var ageStr string
	switch {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if freshness.IsFresh {
		return fmt.Sprintf("%s: updated %s", freshness.DataType, ageStr)
	}
	return fmt.Sprintf("%s: stale, updated %s", freshness.DataType, ageStr)
}
