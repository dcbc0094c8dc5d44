package domain

import "time"

type User struct {
	ID        string     `bson:"_id" json:"id"`
	FullName  string     `bson:"full_name" json:"full_name"`
	Email     string     `bson:"email,omitempty" json:"email,omitempty"`
	Avatar    string     `bson:"avatar,omitempty" json:"avatar,omitempty"`
	IsOnline  bool       `bson:"is_online" json:"is_online"`
	LastSeen  *time.Time `bson:"last_seen" json:"last_seen"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// Presence is the answer to "is this identity online" plus the persisted
// last-seen time for offline identities.
type Presence struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen"`
}
