// Package speech provides read-only access to the parliamentary speech corpus.
package speech

import (
	"context"
	"fmt"
)

// Speech is a single speech row from the speeches view.
type Speech struct {
	ID            int64
	MemberID      int
	Name          string
	Text          string
	Session       int
	SessionNumber *int
	Date          string
	Topic         string
	TopicExtra    string
	Chair         int
	QA            *int
}

// SpeechMeta is the subset of speech columns needed for scored output rows.
type SpeechMeta struct {
	ID       int64
	Date     string
	Topic    string
	MemberID int
}

// Person describes a parliament member.
type Person struct {
	ID        int    `json:"person_id"`
	FirstName string `json:"first_name"`
	Surname   string `json:"surname"`
	Name      string `json:"name"`
	Gender    string `json:"gender,omitempty"`
	Faction   string `json:"faction,omitempty"`
	PartyName string `json:"party_name,omitempty"`
	DOB       string `json:"dob,omitempty"`
	City      string `json:"city,omitempty"`
}

// Store is the read-only query surface over the speech corpus. Both the
// SQLite and Postgres backends implement it.
type Store interface {
	// SpeechesByMember returns every speech delivered by the member,
	// ordered by date then id.
	SpeechesByMember(ctx context.Context, memberID int) ([]Speech, error)

	// SpeechTexts returns the text of each requested speech id. Missing ids
	// are absent from the result map.
	SpeechTexts(ctx context.Context, ids []int64) (map[int64]string, error)

	// SpeechMeta returns metadata for a single speech, or nil if not found.
	SpeechMeta(ctx context.Context, id int64) (*SpeechMeta, error)

	// Member returns member details, or nil if not found.
	Member(ctx context.Context, id int) (*Person, error)

	// SearchMembers finds members whose first name or surname matches any
	// whitespace-separated part of name.
	SearchMembers(ctx context.Context, name string) ([]Person, error)

	// MemberIDs returns every distinct member id in the corpus.
	MemberIDs(ctx context.Context) ([]int, error)

	Close() error
}

// SchemaError indicates the source database is missing a required relation.
// It is fatal at startup; the corpus database is provisioned out of band.
type SchemaError struct {
	Relation string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("speech: database missing required relation %q", e.Relation)
}
