package tasks

// ParticipantRole distinguishes assignees, who may edit a task, from
// followers, who only receive its updates.
type ParticipantRole string

const (
	RoleAssignee ParticipantRole = "assignee"
	RoleFollower ParticipantRole = "follower"
)

// Task is a tracked work item.
type Task struct {
	TaskID      string `gorm:"column:task_id;primaryKey;size:190;not null"`
	CreatorID   string `gorm:"column:creator_id;size:190;not null;index"`
	Title       string `gorm:"column:title;size:320;not null"`
	Description string `gorm:"column:description"`
	Status      string `gorm:"column:status;size:32;not null;default:open"`
	CreatedAtS  int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtS  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName exposes the table backing tasks.
func (Task) TableName() string {
	return "tasks"
}

// Participant links a user to a task as assignee or follower.
type Participant struct {
	TaskID string          `gorm:"column:task_id;primaryKey;size:190;not null"`
	UserID string          `gorm:"column:user_id;primaryKey;size:190;not null"`
	Role   ParticipantRole `gorm:"column:participant_role;primaryKey;size:16;not null"`
}

// TableName exposes the table backing task participants.
func (Participant) TableName() string {
	return "task_participants"
}
