// Package domain defines the persistence models for conversations, messages,
// and FAQ entries. These types are mapped with GORM and form the core data
// layer of the support backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message roles accepted by the conversation ledger and the completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultCategory is applied to FAQ entries created without a category.
const DefaultCategory = "General"

// Conversation is the per-session message history of a user. It is keyed by
// (UserID, SessionID) and owns its messages exclusively.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID / SessionID: caller-supplied identifiers, unique together.
//   - Title: derived once from the first user message; empty until then.
//   - MessageCount: number of appended messages; the next message's Seq.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Conversation struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID       string    `json:"user_id"       gorm:"type:varchar(64);not null;uniqueIndex:ux_user_session,priority:1"`
	SessionID    string    `json:"session_id"    gorm:"type:varchar(128);not null;uniqueIndex:ux_user_session,priority:2"`
	Title        string    `json:"title"         gorm:"type:varchar(255);not null;default:''"`
	MessageCount int       `json:"message_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"    gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single role-tagged utterance within a conversation. Messages
// are immutable once appended; Seq gives their chronological position.
type Message struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"type:char(36);not null;uniqueIndex:ux_conv_seq,priority:1"`
	Seq            int       `json:"seq"             gorm:"not null;uniqueIndex:ux_conv_seq,priority:2"`
	Role           string    `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('system','user','assistant')"`
	Content        string    `json:"content"         gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"timestamp"`

	// Conversation is the owning ledger. Messages are cascade-deleted
	// with it.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// FAQ is a knowledge-base question/answer pair with matching metadata.
//
// Keywords are lower-case, deduplicated and capped; Priority orders the
// candidate set handed to the matcher (higher first).
type FAQ struct {
	ID        string                      `json:"id"         gorm:"type:char(36);primaryKey"`
	Question  string                      `json:"question"   gorm:"type:text;not null"`
	Answer    string                      `json:"answer"     gorm:"type:text;not null"`
	Category  string                      `json:"category"   gorm:"type:varchar(64);not null;default:'General';index"`
	Keywords  datatypes.JSONSlice[string] `json:"keywords"`
	Priority  int                         `json:"priority"   gorm:"not null;default:1;check:priority BETWEEN 1 AND 10;index:idx_faq_active_priority,priority:2,sort:desc"`
	IsActive  bool                        `json:"is_active"  gorm:"not null;index:idx_faq_active_priority,priority:1"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
	DeletedAt gorm.DeletedAt              `json:"-"          gorm:"index"`
}

// TableName returns the database table name for FAQ.
func (FAQ) TableName() string { return "faqs" }
