package tracker

// UserRef is the remote system's shorthand for a person on an issue.
type UserRef struct {
	ID      string `json:"id,omitempty"`
	Login   string `json:"login,omitempty"`
	Display string `json:"display,omitempty"`
}

type Status struct {
	Key     string `json:"key"`
	Display string `json:"display"`
}

type Issue struct {
	Key       string   `json:"key"`
	Summary   string   `json:"summary"`
	Status    Status   `json:"status"`
	Assignee  *UserRef `json:"assignee,omitempty"`
	CreatedBy *UserRef `json:"createdBy,omitempty"`
	Deadline  string   `json:"deadline,omitempty"` // YYYY-MM-DD
	Tags      []string `json:"tags,omitempty"`
}

type Comment struct {
	ID        int64    `json:"id"`
	Text      string   `json:"text"`
	CreatedBy *UserRef `json:"createdBy,omitempty"`
	CreatedAt string   `json:"createdAt,omitempty"`
}

// Transition is one workflow edge available from the issue's current status.
type Transition struct {
	ID      string `json:"id"`
	Display string `json:"display"`
	To      Status `json:"to"`
}

type CreateIssueParams struct {
	Queue       string
	Summary     string
	Description string
	Assignee    string
	Priority    string
	Deadline    string // YYYY-MM-DD, empty for none
	Tags        []string
	Followers   []string
}
