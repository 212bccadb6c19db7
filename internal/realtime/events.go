package realtime

import "encoding/json"

// Server-to-client event names.
const (
	EventReceiveMessage         = "receive_message"
	EventNewMessageNotification = "new_message_notification"
	EventMessageRead            = "message_read"
	EventUserTyping             = "user_typing"
	EventNewMemo                = "new_memo"
	EventMemoAcknowledged       = "memo_acknowledged"
	EventTaskUpdated            = "task_updated"
	EventUserOnline             = "user_online"
	EventUserOffline            = "user_offline"
	EventMessageError           = "message_error"
	EventMemoError              = "memo_error"
	EventTaskError              = "task_error"
)

// Client-to-server event names.
const (
	EventJoinConversations = "join_conversations"
	EventSendMessage       = "send_message"
	EventMarkMessageRead   = "mark_message_read"
	EventTyping            = "typing"
	EventCreateMemo        = "create_memo"
	EventAcknowledgeMemo   = "acknowledge_memo"
	EventUpdateTask        = "update_task"
)

const (
	personalRoomPrefix     = "user_"
	conversationRoomPrefix = "conversation_"
)

// Envelope is the JSON frame exchanged on the socket in both directions.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// InboundEnvelope defers payload decoding until the event handler is known.
type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PersonalRoom returns the room every connection of a user joins automatically.
func PersonalRoom(userID string) string {
	return personalRoomPrefix + userID
}

// ConversationRoom returns the opt-in room for a conversation.
func ConversationRoom(conversationID string) string {
	return conversationRoomPrefix + conversationID
}
