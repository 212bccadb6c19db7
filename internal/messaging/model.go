package messaging

// Status tracks how far a message has progressed toward its receiver.
type Status string

const (
	// StatusSent is recorded at the authoritative write.
	StatusSent Status = "sent"
	// StatusDelivered is advanced best-effort after the live broadcast.
	StatusDelivered Status = "delivered"
	// StatusRead is recorded when the receiver acknowledges the message.
	StatusRead Status = "read"
)

// Message is a persisted direct message within a conversation.
type Message struct {
	MessageID      string `gorm:"column:message_id;primaryKey;size:190;not null"`
	ConversationID string `gorm:"column:conversation_id;size:190;not null;index"`
	SenderID       string `gorm:"column:sender_id;size:190;not null;index"`
	ReceiverID     string `gorm:"column:receiver_id;size:190;not null;index"`
	Body           string `gorm:"column:body;not null"`
	Status         Status `gorm:"column:status;size:16;not null;default:sent"`
	CreatedAtS     int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing messages.
func (Message) TableName() string {
	return "messages"
}

// View is the denormalized message shape broadcast to clients.
type View struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	ReceiverID     string `json:"receiver_id"`
	ReceiverName   string `json:"receiver_name"`
	Body           string `json:"body"`
	Status         Status `json:"status"`
	CreatedAtS     int64  `json:"created_at_s"`
}
