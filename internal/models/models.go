// Package models provides domain models for the forecasting core.
package models

import (
	"fmt"
	"strings"
)

// Severity is the expected magnitude of an event's price impact.
// Values are ordered so comparisons such as s >= SeverityMajor are valid.
type Severity int

const (
	SeverityNegligible Severity = iota + 1
	SeverityMinor
	SeverityModerate
	SeverityMajor
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNegligible: "negligible",
	SeverityMinor:      "minor",
	SeverityModerate:   "moderate",
	SeverityMajor:      "major",
	SeverityCritical:   "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity parses a severity name.
func ParseSeverity(s string) (Severity, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for sev, name := range severityNames {
		if name == needle {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// ImpactDirection is the expected direction of price movement.
type ImpactDirection string

const (
	ImpactSpike   ImpactDirection = "spike"
	ImpactCrash   ImpactDirection = "crash"
	ImpactMixed   ImpactDirection = "mixed"
	ImpactNeutral ImpactDirection = "neutral"
)

// Valid reports whether d is a known direction.
func (d ImpactDirection) Valid() bool {
	switch d {
	case ImpactSpike, ImpactCrash, ImpactMixed, ImpactNeutral:
		return true
	}
	return false
}

// EventScope is the population an event applies to.
type EventScope string

const (
	ScopeGlobal       EventScope = "global"
	ScopeRegion       EventScope = "region"
	ScopeRealmCluster EventScope = "realm_cluster"
	ScopeFaction      EventScope = "faction"
)

// Valid reports whether s is a known scope.
func (s EventScope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeRegion, ScopeRealmCluster, ScopeFaction:
		return true
	}
	return false
}

// EventType classifies an event.
type EventType string

const (
	EventExpansionLaunch       EventType = "expansion_launch"
	EventExpansionPrepatch     EventType = "expansion_prepatch"
	EventExpansionAnnouncement EventType = "expansion_announcement"
	EventMajorPatch            EventType = "major_patch"
	EventMinorPatch            EventType = "minor_patch"
	EventHotfix                EventType = "hotfix"
	EventSeasonStart           EventType = "season_start"
	EventSeasonEnd             EventType = "season_end"
	EventRaceToWorldFirst      EventType = "rtwf"
	EventArenaTournament       EventType = "arena_tournament"
	EventHoliday               EventType = "holiday_event"
	EventWorldBoss             EventType = "world_boss"
	EventBonusWeek             EventType = "bonus_week"
	EventTradingPostReset      EventType = "trading_post_reset"
	EventNewRaidTier           EventType = "new_raid_tier"
	EventNewDungeonPool        EventType = "new_dungeon_pool"
	EventNewCraftingSystem     EventType = "new_crafting_system"
	EventItemAdded             EventType = "item_added"
	EventItemRemoved           EventType = "item_removed"
	EventRecipeChange          EventType = "recipe_change"
	EventDropRateChange        EventType = "drop_rate_change"
	EventMaintenance           EventType = "maintenance_window"
	EventEmergencyMaintenance  EventType = "emergency_maintenance"
	EventServerMerge           EventType = "server_merge"
	EventCrossRealmChange      EventType = "cross_realm_change"
	EventConvention            EventType = "blizzcon"
	EventContentDrought        EventType = "content_drought"
)

var eventTypes = map[EventType]bool{
	EventExpansionLaunch: true, EventExpansionPrepatch: true, EventExpansionAnnouncement: true,
	EventMajorPatch: true, EventMinorPatch: true, EventHotfix: true,
	EventSeasonStart: true, EventSeasonEnd: true, EventRaceToWorldFirst: true,
	EventArenaTournament: true, EventHoliday: true, EventWorldBoss: true,
	EventBonusWeek: true, EventTradingPostReset: true, EventNewRaidTier: true,
	EventNewDungeonPool: true, EventNewCraftingSystem: true, EventItemAdded: true,
	EventItemRemoved: true, EventRecipeChange: true, EventDropRateChange: true,
	EventMaintenance: true, EventEmergencyMaintenance: true, EventServerMerge: true,
	EventCrossRealmChange: true, EventConvention: true, EventContentDrought: true,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return eventTypes[t]
}

// Category is the top-level item archetype.
type Category string

const (
	CategoryConsumable Category = "consumable"
	CategoryMat        Category = "mat"
	CategoryGear       Category = "gear"
	CategoryEnchant    Category = "enchant"
	CategoryGem        Category = "gem"
	CategoryProfTool   Category = "prof_tool"
	CategoryReagent    Category = "reagent"
	CategoryTradeGood  Category = "trade_good"
	CategoryService    Category = "service"
	CategoryCollection Category = "collection"
)

// Root returns the top-level archetype of a dotted category slug such as
// "consumable.flask".
func (c Category) Root() Category {
	if i := strings.IndexByte(string(c), '.'); i >= 0 {
		return c[:i]
	}
	return c
}

// Valid reports whether the root of c is a known category.
func (c Category) Valid() bool {
	switch c.Root() {
	case CategoryConsumable, CategoryMat, CategoryGear, CategoryEnchant, CategoryGem,
		CategoryProfTool, CategoryReagent, CategoryTradeGood, CategoryService, CategoryCollection:
		return true
	}
	return false
}

// DriftLevel is the severity of observed forecast drift. Known levels are
// ordered; DriftUnknown sits outside the order and means no baseline.
type DriftLevel int

const (
	DriftUnknown DriftLevel = iota - 1
	DriftNone
	DriftLow
	DriftModerate
	DriftHigh
	DriftCritical
)

var driftNames = map[DriftLevel]string{
	DriftUnknown:  "UNKNOWN",
	DriftNone:     "NONE",
	DriftLow:      "LOW",
	DriftModerate: "MODERATE",
	DriftHigh:     "HIGH",
	DriftCritical: "CRITICAL",
}

func (l DriftLevel) String() string {
	if name, ok := driftNames[l]; ok {
		return name
	}
	return fmt.Sprintf("drift(%d)", int(l))
}

// Known reports whether l is one of the ordered levels.
func (l DriftLevel) Known() bool {
	return l >= DriftNone && l <= DriftCritical
}

// Bump returns the next more severe level, saturating at critical.
func (l DriftLevel) Bump() DriftLevel {
	if !l.Known() || l == DriftCritical {
		return l
	}
	return l + 1
}

// ParseDriftLevel parses a drift level name.
func ParseDriftLevel(s string) (DriftLevel, error) {
	needle := strings.ToUpper(strings.TrimSpace(s))
	if needle == "MEDIUM" {
		needle = "MODERATE"
	}
	for lvl, name := range driftNames {
		if name == needle {
			return lvl, nil
		}
	}
	return DriftUnknown, fmt.Errorf("unknown drift level %q", s)
}

// Action is a recommendation verb.
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionHold  Action = "hold"
	ActionAvoid Action = "avoid"
)
