package ports

import (
	"context"

	"cosmosai/internal/domain"
)

// CredentialSource exchanges a mode for a short-lived session credential.
type CredentialSource interface {
	FetchCredential(ctx context.Context, mode domain.Mode) (domain.Credential, error)
}

// VendorClient is a live handle on the vendor's realtime voice SDK.
// Events is subscribed once and stays open until Close. Events carry the
// Attempt of the Start that opened their connection.
type VendorClient interface {
	Start(ctx context.Context, req domain.StartRequest) error
	Stop() error
	Events() <-chan domain.VendorEvent
	Close() error
}

// VendorProvider constructs vendor clients.
type VendorProvider interface {
	NewClient(ctx context.Context) (VendorClient, error)
}

// CallIssuer creates a vendor web call using server-held secrets.
type CallIssuer interface {
	IssueCall(ctx context.Context, mode domain.ModeConfig) (domain.Credential, error)
}

// LeadStore persists lead-capture records.
type LeadStore interface {
	CreateLead(ctx context.Context, input domain.LeadInput) (domain.Lead, error)
	Close() error
}

// LeadReader loads captured leads. Lead returns an error wrapping
// leads.ErrNotFound for unknown ids.
type LeadReader interface {
	Lead(ctx context.Context, id string) (domain.Lead, error)
	Leads(ctx context.Context) ([]domain.Lead, error)
}

// EventSink emits session state, transcript and errors to the shell.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	ActivityChanged(activity domain.Activity)
	MessageAppended(message domain.Message)
	LiveTranscript(fragment *domain.LiveFragment)
	SessionError(code domain.ErrorCode, detail string)
}
