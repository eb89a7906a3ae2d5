package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Platform identifies a supported social platform.
// Values include PlatformX and PlatformFarcaster.
type Platform string

const (
	PlatformX         Platform = "x"
	PlatformFarcaster Platform = "farcaster"
)

// Platforms lists every supported platform in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformX, PlatformFarcaster}
}

// Metadata is a custom type for storing free-form JSON metadata in the database.
type Metadata map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the metadata.
//   - error: non-nil if marshaling fails.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Metadata")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// TrackedAccount is the per-project sync subject. It carries the per-platform
// handles and the per-platform watermarks that drive incremental fetching.
//
// A non-null watermark must always correspond to at least one stored post for
// that (project, platform) pair; a watermark without posts is corruption and
// is repaired by nulling the watermark, never by deleting posts.
type TrackedAccount struct {
	ID        string `gorm:"type:text;primaryKey" json:"id"`
	ProjectID string `gorm:"type:text;not null;uniqueIndex:idx_accounts_project" json:"project_id"`

	XHandle         string `gorm:"type:text" json:"x_handle,omitempty"`
	FarcasterHandle string `gorm:"type:text" json:"farcaster_handle,omitempty"`

	// Watermarks: timestamp of the newest stored post per platform.
	LatestXPostAt         *time.Time `gorm:"index" json:"latest_x_post_at,omitempty"`
	LatestFarcasterPostAt *time.Time `gorm:"index" json:"latest_farcaster_post_at,omitempty"`

	LastXFetchAt         *time.Time `json:"last_x_fetch_at,omitempty"`
	LastFarcasterFetchAt *time.Time `json:"last_farcaster_fetch_at,omitempty"`

	Metadata  Metadata  `gorm:"type:text" json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for TrackedAccount.
func (TrackedAccount) TableName() string {
	return "tracked_accounts"
}

// Handle returns the configured handle for the given platform, or "" when the
// project does not track that platform.
func (a *TrackedAccount) Handle(p Platform) string {
	switch p {
	case PlatformX:
		return a.XHandle
	case PlatformFarcaster:
		return a.FarcasterHandle
	}
	return ""
}

// Watermark returns the latest observed post timestamp for the given platform.
func (a *TrackedAccount) Watermark(p Platform) *time.Time {
	switch p {
	case PlatformX:
		return a.LatestXPostAt
	case PlatformFarcaster:
		return a.LatestFarcasterPostAt
	}
	return nil
}

// SetWatermark sets the latest observed post timestamp for the given platform.
func (a *TrackedAccount) SetWatermark(p Platform, t *time.Time) {
	switch p {
	case PlatformX:
		a.LatestXPostAt = t
	case PlatformFarcaster:
		a.LatestFarcasterPostAt = t
	}
}

// SetLastFetchAt records the time of the most recent fetch attempt for the
// given platform.
func (a *TrackedAccount) SetLastFetchAt(p Platform, t time.Time) {
	switch p {
	case PlatformX:
		a.LastXFetchAt = &t
	case PlatformFarcaster:
		a.LastFarcasterFetchAt = &t
	}
}
