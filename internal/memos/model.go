package memos

// Severity ranks how urgent a memo is. High and critical memos additionally
// trigger SMS delivery for recipients who opted in.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityNormal   Severity = "normal"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityNormal, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Memo is a broadcast announcement targeting a fixed recipient list.
type Memo struct {
	MemoID     string   `gorm:"column:memo_id;primaryKey;size:190;not null"`
	CreatorID  string   `gorm:"column:creator_id;size:190;not null;index"`
	Title      string   `gorm:"column:title;size:320;not null"`
	Body       string   `gorm:"column:body;not null"`
	Severity   Severity `gorm:"column:severity;size:16;not null;default:normal"`
	CreatedAtS int64    `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing memos.
func (Memo) TableName() string {
	return "memos"
}

// Recipient tracks one user's pending or completed acknowledgement of a memo.
type Recipient struct {
	MemoID          string `gorm:"column:memo_id;primaryKey;size:190;not null"`
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null"`
	AcknowledgedAtS *int64 `gorm:"column:acknowledged_at_s"`
	Comment         string `gorm:"column:comment;size:1024"`
}

// TableName exposes the table backing memo recipients.
func (Recipient) TableName() string {
	return "memo_recipients"
}
