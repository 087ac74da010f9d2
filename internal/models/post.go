// Package models contains data structures for the application's domain models.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// MaxReactionCount is the ceiling for RealCount and FakeCount.
	MaxReactionCount = 999
	// PostsPerPage is the fixed page size of the recent feed.
	PostsPerPage = 20
	// DefaultRetention is how long a post stays readable after creation.
	DefaultRetention = 365 * 24 * time.Hour
)

// Post is a meal photo with a caption, two sentiment counters and its comments.
type Post struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	AuthorID    string    `gorm:"type:varchar(36);not null;index" json:"author_id"`
	ImageKey    string    `gorm:"not null" json:"image_key"`
	ImageURL    string    `gorm:"not null" json:"image_url"`
	Description string    `gorm:"type:text;not null" json:"description"`
	RealCount   int       `gorm:"not null" json:"real_count"`
	FakeCount   int       `gorm:"not null" json:"fake_count"`
	Comments    []Comment `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"comments"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Post) TableName() string {
	return "posts"
}

// BeforeCreate assigns the identifier and the server-side creation time.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = NowUTC()
	}
	return nil
}

// Expired reports whether the post is past its retention window at now.
func (p *Post) Expired(now time.Time, retention time.Duration) bool {
	return now.Sub(p.CreatedAt) > retention
}

// Normalize puts timestamps in UTC and guarantees a non-nil comment slice,
// whatever encoding the store handed back.
func (p *Post) Normalize() {
	p.CreatedAt = p.CreatedAt.UTC()
	if p.Comments == nil {
		p.Comments = []Comment{}
	}
	for i := range p.Comments {
		p.Comments[i].CreatedAt = p.Comments[i].CreatedAt.UTC()
	}
}

// Count returns the current value of the counter for kind.
func (p *Post) Count(kind ReactionKind) int {
	if kind == ReactionFake {
		return p.FakeCount
	}
	return p.RealCount
}

// ReactionKind names one of the two sentiment counters.
type ReactionKind string

const (
	ReactionReal ReactionKind = "real"
	ReactionFake ReactionKind = "fake"
)

// ParseReactionKind validates a client supplied reaction kind.
func ParseReactionKind(raw string) (ReactionKind, error) {
	switch ReactionKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ReactionReal:
		return ReactionReal, nil
	case ReactionFake:
		return ReactionFake, nil
	}
	return "", NewValidationError("Reaction kind must be \"real\" or \"fake\"")
}

// Column returns the counter column backing the kind.
func (k ReactionKind) Column() string {
	if k == ReactionFake {
		return "fake_count"
	}
	return "real_count"
}

// PostPage is one page of the recent feed.
type PostPage struct {
	Posts      []*Post    `json:"posts"`
	HasMore    bool       `json:"has_more"`
	NextCursor *time.Time `json:"next_cursor,omitempty"`
}

// NowUTC returns the current time at the precision every supported store keeps.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
