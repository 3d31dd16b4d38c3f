package eventlog

// AgentRegisteredPayload backs TypeAgentRegistered.
type AgentRegisteredPayload struct {
	Name             string `json:"name"`
	Program          string `json:"program"`
	Model            string `json:"model"`
	TaskDescription  string `json:"task_description"`
}

// MessageSentPayload backs TypeMessageSent.
type MessageSentPayload struct {
	ID         string   `json:"id"`
	FromAgent  string   `json:"from_agent"`
	ToAgents   []string `json:"to_agents"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	ThreadID   string   `json:"thread_id,omitempty"`
	Importance string   `json:"importance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MessageReadPayload backs TypeMessageRead and TypeMessageAcked.
type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	Agent     string `json:"agent"`
}

// FileReservedPayload backs TypeFileReserved.
type FileReservedPayload struct {
	Reservations []ReservationRecord `json:"reservations"`
}

// ReservationRecord is one path-pattern claim within a reservation batch.
type ReservationRecord struct {
	ID          string `json:"id"`
	AgentName   string `json:"agent_name"`
	PathPattern string `json:"path_pattern"`
	Exclusive   bool   `json:"exclusive"`
	Reason      string `json:"reason"`
	ExpiresAt   *int64 `json:"expires_at,omitempty"`
}

// FileReleasedPayload backs TypeFileReleased.
type FileReleasedPayload struct {
	AgentName string   `json:"agent_name"`
	Paths     []string `json:"paths,omitempty"`
}

// BeadCreatedPayload backs TypeBeadCreated.
type BeadCreatedPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IssueType   string `json:"issue_type"`
	Priority    int    `json:"priority"`
	ParentID    string `json:"parent_id,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
}

// BeadUpdatedPayload backs TypeBeadUpdated (partial-field patch).
type BeadUpdatedPayload struct {
	ID          string  `json:"id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
}

// BeadStatusChangedPayload backs TypeBeadStatusChanged.
type BeadStatusChangedPayload struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// BeadClosedPayload backs TypeBeadClosed.
type BeadClosedPayload struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BeadDeletedPayload backs TypeBeadDeleted.
type BeadDeletedPayload struct {
	ID       string `json:"id"`
	By       string `json:"by"`
	Reason   string `json:"reason"`
}

// BeadDependencyPayload backs TypeBeadDependencyAdded / *Removed.
type BeadDependencyPayload struct {
	CellID       string `json:"cell_id"`
	DependsOnID  string `json:"depends_on_id"`
	Relationship string `json:"relationship"`
}

// BeadLabelPayload backs TypeBeadLabelAdded / *Removed.
type BeadLabelPayload struct {
	CellID string `json:"cell_id"`
	Label  string `json:"label"`
}

// BeadCommentPayload backs TypeBeadCommentAdded / *Updated / *Deleted.
type BeadCommentPayload struct {
	ID       string `json:"id"`
	CellID   string `json:"cell_id"`
	Author   string `json:"author"`
	Body     string `json:"body,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

// BeadChildPayload backs TypeBeadChildAdded / *Removed.
type BeadChildPayload struct {
	EpicID  string `json:"epic_id"`
	ChildID string `json:"child_id"`
}

// MemoryStoredPayload backs TypeMemoryStored.
type MemoryStoredPayload struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Collection string         `json:"collection"`
	Confidence float64        `json:"confidence"`
	Embedding  []float32      `json:"embedding"`
}

// MemoryRemovedPayload backs TypeMemoryRemoved.
type MemoryRemovedPayload struct {
	ID string `json:"id"`
}

// MemoryValidatedPayload backs TypeMemoryValidated.
type MemoryValidatedPayload struct {
	ID string `json:"id"`
}
