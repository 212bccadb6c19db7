package presence

// Presence is the durable projection of a user's live-connection status.
// Invariant: Online is true iff ConnectionID is non-empty.
type Presence struct {
	UserID       string `gorm:"column:user_id;primaryKey;size:190;not null"`
	ConnectionID string `gorm:"column:connection_id;size:190"`
	Online       bool   `gorm:"column:online;not null;default:false"`
	LastSeenS    *int64 `gorm:"column:last_seen_s"`
}

// TableName exposes the table backing presence rows.
func (Presence) TableName() string {
	return "user_presences"
}

// StatusPayload is the body of user_online and user_offline broadcasts.
type StatusPayload struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen *int64 `json:"last_seen_s"`
}
