package db

import (
	"encoding/json"
	"time"
)

// Listing statuses.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusMerged  = "merged"
)

// Change types recorded when an existing listing mutates between runs.
const (
	ChangeTypeAmount   = "amount"
	ChangeTypeDeadline = "deadline"
	ChangeTypeStatus   = "status"
	ChangeTypeContent  = "content"
	ChangeTypeOther    = "other"
)

// Sync run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Listing maps grants.listings: one row per real-world announcement as known
// to this system. (source, source_id) is the only stable upstream identity.
type Listing struct {
	ID                  int64           `gorm:"column:id;primaryKey;autoIncrement"`
	ListingUUID         string          `gorm:"column:listing_uuid;type:uuid;not null;unique"`
	Source              string          `gorm:"column:source;type:text;not null;uniqueIndex:uq_listings_source_key,priority:1"`
	SourceID            string          `gorm:"column:source_id;type:text;not null;uniqueIndex:uq_listings_source_key,priority:2"`
	Title               string          `gorm:"column:title;type:text;not null"`
	Organization        string          `gorm:"column:organization;type:text;not null;index"`
	Category            string          `gorm:"column:category;type:text;not null;default:''"`
	SupportType         string          `gorm:"column:support_type;type:text;not null;default:''"`
	TargetAudience      string          `gorm:"column:target_audience;type:text;not null;default:''"`
	SupportAmount       string          `gorm:"column:support_amount;type:text;not null;default:''"`
	ApplicationStart    *time.Time      `gorm:"column:application_start;type:date"`
	ApplicationEnd      *time.Time      `gorm:"column:application_end;type:date"`
	Content             string          `gorm:"column:content;type:text;not null;default:''"`
	AttachmentURLs      []string        `gorm:"-"`
	AttachmentURLsJSON  json.RawMessage `gorm:"column:attachment_urls;type:jsonb;not null;default:'[]'"`
	ContentLanguage     string          `gorm:"column:content_language;type:text;not null;default:''"`
	EligibilityCriteria json.RawMessage `gorm:"column:eligibility_criteria;type:jsonb"`
	Status              string          `gorm:"column:status;type:text;not null;default:active;index"`
	MergedIntoID        *int64          `gorm:"column:merged_into_id;type:bigint"`
	CreatedAt           time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Listing) TableName() string { return "grants.listings" }

// ChangeRecord maps grants.change_records. Immutable once written; one row per
// field difference detected during an upsert of an existing listing.
type ChangeRecord struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ListingID  int64     `gorm:"column:listing_id;type:bigint;not null;index"`
	ChangeType string    `gorm:"column:change_type;type:text;not null"`
	FieldName  string    `gorm:"column:field_name;type:text;not null"`
	OldValue   string    `gorm:"column:old_value;type:text;not null;default:''"`
	NewValue   string    `gorm:"column:new_value;type:text;not null;default:''"`
	DetectedAt time.Time `gorm:"column:detected_at;type:timestamptz;not null"`
}

func (ChangeRecord) TableName() string { return "grants.change_records" }

// SyncRun maps grants.sync_runs: one row per orchestrator invocation.
type SyncRun struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	SyncRunUUID  string     `gorm:"column:sync_run_uuid;type:uuid;not null;unique"`
	Source       string     `gorm:"column:source;type:text;not null;index"`
	StartedAt    time.Time  `gorm:"column:started_at;type:timestamptz;not null"`
	EndedAt      *time.Time `gorm:"column:ended_at;type:timestamptz"`
	Status       string     `gorm:"column:status;type:text;not null;default:running"`
	TotalFetched int        `gorm:"column:total_fetched;type:integer;not null;default:0"`
	NewAdded     int        `gorm:"column:new_added;type:integer;not null;default:0"`
	Updated      int        `gorm:"column:updated;type:integer;not null;default:0"`
	Failed       int        `gorm:"column:failed;type:integer;not null;default:0"`
	ErrorMessage *string    `gorm:"column:error_message;type:text"`
}

func (SyncRun) TableName() string { return "grants.sync_runs" }

func autoMigrateModels() []any {
	return []any{
		&Listing{},
		&ChangeRecord{},
		&SyncRun{},
	}
}
