package dialogue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/deskbridge-io/deskbridge/internal/store"
	"github.com/deskbridge-io/deskbridge/internal/tracker"
)

// Submission failures. Both are terminal for the dialogue instance: the
// fields are discarded and the user has to start a new dialogue.
var (
	ErrNotRegistered      = errors.New("dialogue: user not registered")
	ErrTrackerUnavailable = errors.New("dialogue: tracker unavailable")
)

// Result describes the outcome of a ticket submission. HadAttachment with
// AttachmentUploaded false is the partial-success case: the ticket exists
// but the upload failed.
type Result struct {
	Key                string
	Link               string
	HadAttachment      bool
	AttachmentUploaded bool
}

// Submitter turns completed fields into a tracker issue.
type Submitter interface {
	Submit(ctx context.Context, userID string, f Fields) (*Result, error)
}

// TokenSource resolves a user's tracker credential.
type TokenSource interface {
	GetToken(ctx context.Context, userID string) ([]byte, error)
}

// IssueCreator is the slice of the tracker client submission needs.
type IssueCreator interface {
	CreateIssue(ctx context.Context, token []byte, req tracker.CreateRequest) (*tracker.Issue, error)
	AddAttachment(ctx context.Context, token []byte, key, filename string, data []byte) error
}

// TrackerSubmitter is the production Submitter: one create call, at most
// one follow-up attachment upload. Submissions are not deduplicated;
// submitting the same fields twice files two tickets.
type TrackerSubmitter struct {
	Tokens  TokenSource
	Tracker IssueCreator
	Logger  *slog.Logger
}

func (s *TrackerSubmitter) Submit(ctx context.Context, userID string, f Fields) (*Result, error) {
	token, err := s.Tokens.GetToken(ctx, userID)
	if errors.Is(err, store.ErrNoToken) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		s.Logger.Error("token lookup failed", "user", userID, "error", err)
		return nil, ErrTrackerUnavailable
	}
	defer store.Wipe(token)

	issue, err := s.Tracker.CreateIssue(ctx, token, tracker.CreateRequest{
		Summary:     f.Topic,
		Description: f.Description,
		Priority:    f.Priority,
		IssueType:   f.Category.IssueType,
	})
	if err != nil {
		s.Logger.Error("issue create failed", "user", userID, "error", err)
		return nil, ErrTrackerUnavailable
	}

	res := &Result{Key: issue.Key, Link: issue.Link}
	if f.Attachment != nil {
		res.HadAttachment = true
		// Upload failure does not roll back the created issue.
		if err := s.Tracker.AddAttachment(ctx, token, issue.Key, f.Attachment.Name, f.Attachment.Data); err != nil {
			s.Logger.Warn("attachment upload failed", "user", userID, "ticket", issue.Key, "error", err)
		} else {
			res.AttachmentUploaded = true
		}
	}
	return res, nil
}
