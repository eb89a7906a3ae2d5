package domain

import "time"

// SocialPost is one ingested post, deduplicated on
// (account, platform, platform-native post ID).
//
// PostedAt is the platform-reported timestamp and is authoritative for
// ordering; FetchedAt records when we ingested the post.
type SocialPost struct {
	ID             string    `gorm:"type:text;primaryKey" json:"id"`
	AccountID      string    `gorm:"type:text;not null;index:idx_posts_account_platform;uniqueIndex:idx_posts_native" json:"account_id"`
	Platform       Platform  `gorm:"type:text;not null;index:idx_posts_account_platform;uniqueIndex:idx_posts_native" json:"platform"`
	PlatformPostID string    `gorm:"type:text;not null;uniqueIndex:idx_posts_native" json:"platform_post_id"`
	Content        string    `gorm:"type:text" json:"content"`
	URL            string    `gorm:"type:text" json:"url,omitempty"`
	PostedAt       time.Time `gorm:"not null;index" json:"posted_at"`
	FetchedAt      time.Time `gorm:"not null" json:"fetched_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for SocialPost.
func (SocialPost) TableName() string {
	return "social_posts"
}
