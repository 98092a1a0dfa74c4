// Package dialogue drives the staged ticket conversation. Each user has at
// most one Session, held in an explicit table keyed by user ID; the engine
// advances it one inbound event at a time.
package dialogue

import "sync"

// Stage is the state tag of a dialogue session.
type Stage int

const (
	StageIdle Stage = iota

	// Ticket creation, in order.
	StageAwaitingPriority
	StageAwaitingType
	StageAwaitingTopic
	StageAwaitingDescription
	StageAwaitingAttachmentChoice
	StageAwaitingAttachment

	// Registration.
	StageAwaitingEmail
	StageAwaitingToken

	// Status lookup and commenting.
	StageAwaitingTicketNumber
	StageAwaitingComment
)

var stageNames = map[Stage]string{
	StageIdle:                     "idle",
	StageAwaitingPriority:         "awaiting_priority",
	StageAwaitingType:             "awaiting_type",
	StageAwaitingTopic:            "awaiting_topic",
	StageAwaitingDescription:      "awaiting_description",
	StageAwaitingAttachmentChoice: "awaiting_attachment_choice",
	StageAwaitingAttachment:       "awaiting_attachment",
	StageAwaitingEmail:            "awaiting_email",
	StageAwaitingToken:            "awaiting_token",
	StageAwaitingTicketNumber:     "awaiting_ticket_number",
	StageAwaitingComment:          "awaiting_comment",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Category is one selectable ticket category.
type Category struct {
	Label               string
	IssueType           string
	RequiresDescription bool
}

// Attachment is a file collected during the dialogue.
type Attachment struct {
	Name string
	Data []byte
}

// Fields is the partial ticket record accumulated across stages. Only the
// keys appropriate to the stages passed so far are set.
type Fields struct {
	Priority    string // tracker priority name
	Category    *Category
	Topic       string
	Description string
	Attachment  *Attachment
}

// Session is one user's in-flight dialogue. Owned exclusively by the
// engine; never persisted.
type Session struct {
	UserID string
	ChatID string
	Stage  Stage
	Fields Fields

	Email  string // registration scratch
	Ticket string // comment target
}

// Sessions is the in-memory session table.
type Sessions struct {
	mu sync.Mutex
	m  map[string]*Session
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*Session)}
}

// Get returns the active session for a user, if any.
func (s *Sessions) Get(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	return sess, ok
}

// Start creates a fresh session for a user, replacing any existing one.
func (s *Sessions) Start(userID, chatID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{UserID: userID, ChatID: chatID}
	s.m[userID] = sess
	return sess
}

// Drop destroys a user's session.
func (s *Sessions) Drop(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
}

// Len returns the number of active sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
