package postman

import (
	"context"
	"time"
)

// Entry is one persisted record of a form submission. Because each form
// consists of an arbitrary number of caller-defined fields, the field
// definitions and values are serialized as a JSON blob instead of using
// a column per field.
type Entry struct {
	ID    int
	Token string
	Date  time.Time

	FormID string
	SiteID int
	PostID int
	UserID int

	IP        string
	UserAgent string

	MailTo      string
	MailFrom    string
	MailSubject string
	MailBody    string
	MailHeaders string

	FieldData []byte
}

// LogStore appends submission records to a persistent log. Implemented
// by the host application; the orchestrator only ever appends.
type LogStore interface {
	Append(ctx context.Context, e *Entry) error
}
