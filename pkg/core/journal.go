package core

// SessionRecord describes one launched debuggee.
type SessionRecord struct {
	ID         string   `json:"id"`
	Executable string   `json:"executable"`
	WorkingDir string   `json:"workingDir"`
	Arguments  []string `json:"arguments"`
	Revision   string   `json:"revision,omitempty"` // VCS commit of WorkingDir at launch
	PID        int      `json:"pid"`
	StartedAt  int64    `json:"startedAt"`
	EndedAt    *int64   `json:"endedAt,omitempty"`
	FinalState string   `json:"finalState,omitempty"`
}

// EventRecord is one relayed event tied to a session.
type EventRecord struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Kind      string `json:"kind"`
	State     string `json:"state,omitempty"`
	Text      string `json:"text,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}
