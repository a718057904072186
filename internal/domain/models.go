// Package domain defines the persistence models for users, sessions, and
// solves. These types are mapped with GORM and form the core data layer
// of the loopover backend.
package domain

import (
	"time"
)

// Axis identifies which direction a loopover move turns.
type Axis string

// Axis values. A move turns either a whole row or a whole column.
const (
	AxisRow Axis = "row"
	AxisCol Axis = "col"
)

// Move is one atomic turn within a solve.
//
// Fields:
//   - Axis: "row" or "col".
//   - Index: which row/column was turned.
//   - N: turn amount and direction (sign).
//   - Time: absolute timestamp in milliseconds at which the move was
//     registered. Within a solve, move times are non-decreasing; that
//     invariant is the producer's responsibility, not this type's.
type Move struct {
	Axis  Axis  `json:"axis"`
	Index int   `json:"index"`
	N     int   `json:"n"`
	Time  int64 `json:"time"`
}

// MoveList is an ordered, chronological sequence of moves. It is persisted
// as a JSON text column via GORM's json serializer.
type MoveList []Move

// Solve represents one timed attempt at an event. Within a user's
// collection StartTime is the identity key: no two solves for the same
// user may share a StartTime (enforced by a unique index). A solve is
// created once by a client push and is immutable thereafter except for
// deletion.
//
// Fields:
//   - ID: auto-increment surrogate key; never exposed to sync clients.
//   - UserID: owner; every query and write is scoped by it.
//   - StartTime: milliseconds since epoch when the attempt began.
//   - Event: puzzle/event type used to bucket statistics.
//   - Time: total elapsed solve time in milliseconds (meaningless when DNF).
//   - DNF: "did not finish" flag; DNF solves sync but are excluded from
//     statistics.
//   - Moves: ordered move history.
type Solve struct {
	ID        uint     `json:"-"         gorm:"primaryKey;autoIncrement"`
	UserID    string   `json:"-"         gorm:"type:char(36);not null;index:idx_user_solves;uniqueIndex:ux_user_start,priority:1"`
	StartTime int64    `json:"startTime" gorm:"not null;index;uniqueIndex:ux_user_start,priority:2"`
	Event     string   `json:"event"     gorm:"type:varchar(32);not null;index:idx_event_solves"`
	Time      int64    `json:"time,omitempty"`
	DNF       bool     `json:"dnf,omitempty"`
	Moves     MoveList `json:"moves"     gorm:"type:text;serializer:json"`
}

// TableName returns the database table name for Solve.
func (Solve) TableName() string { return "solves" }

// User is an identity linked to a third-party provider account. Users are
// upserted on every successful OAuth exchange so profile data stays fresh.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Provider / UID: identity provider name and the provider-side subject;
//     unique together.
//   - Name / AvatarURL: display profile as reported by the provider.
//   - AccessToken / RefreshToken: provider tokens from the last exchange;
//     never serialized to JSON.
type User struct {
	ID           string    `json:"id"        gorm:"type:char(36);primaryKey"`
	Provider     string    `json:"provider"  gorm:"type:varchar(16);not null;uniqueIndex:ux_provider_uid,priority:1"`
	UID          string    `json:"-"         gorm:"column:uid;type:varchar(64);not null;uniqueIndex:ux_provider_uid,priority:2"`
	Name         string    `json:"name"      gorm:"type:varchar(255);not null"`
	AvatarURL    string    `json:"avatarUrl" gorm:"type:varchar(512)"`
	AccessToken  string    `json:"-"         gorm:"type:varchar(512)"`
	RefreshToken string    `json:"-"         gorm:"type:varchar(512)"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Session maps an opaque bearer token to a user. Tokens are random 16-byte
// values issued at login; LastUsed is touched on every authenticated call.
type Session struct {
	Token     string    `json:"-" gorm:"type:varchar(64);primaryKey"`
	UserID    string    `json:"-" gorm:"type:char(36);not null;index"`
	CreatedAt time.Time `json:"-"`
	LastUsed  time.Time `json:"-"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }
