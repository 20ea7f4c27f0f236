package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vvka-141/mailq/internal/attachment"
	"github.com/vvka-141/mailq/pkg/mailq"
)

// entryView is the JSON form of an entry. Attachment content is omitted.
type entryView struct {
	ID            string     `json:"id"`
	Recipient     string     `json:"recipient"`
	Subject       string     `json:"subject"`
	Body          string     `json:"body,omitempty"`
	Category      string     `json:"category"`
	Scope         string     `json:"scope"`
	ReferenceID   string     `json:"reference_id,omitempty"`
	Attachments   []string   `json:"attachments,omitempty"`
	State         string     `json:"state"`
	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

func newEntryView(e *mailq.Entry, withBody bool) entryView {
	v := entryView{
		ID:            e.ID.String(),
		Recipient:     e.Recipient,
		Subject:       e.Subject,
		Category:      e.Category,
		Scope:         e.Scope,
		ReferenceID:   e.ReferenceID,
		State:         string(e.State),
		AttemptCount:  e.AttemptCount,
		MaxAttempts:   e.MaxAttempts,
		CreatedAt:     e.CreatedAt,
		NextAttemptAt: e.NextAttemptAt,
		LastAttemptAt: e.LastAttemptAt,
		SentAt:        e.SentAt,
		LastError:     e.LastError,
	}
	if withBody {
		v.Body = e.Body
	}
	v.Attachments = attachmentNames(e.Attachments)
	return v
}

// attachmentNames lists the file names in an encoded blob. An undecodable
// blob is reported as such rather than failing the listing.
func attachmentNames(blob []byte) []string {
	if len(blob) == 0 {
		return nil
	}
	decoded, err := attachment.Decode(blob)
	if err != nil {
		return []string{"<unreadable>"}
	}
	names := make([]string, 0, len(decoded.Items))
	for _, a := range decoded.Items {
		names = append(names, a.Name)
	}
	return names
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeEntryTable(w io.Writer, entries []*mailq.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tTRIES\tSCOPE\tCATEGORY\tRECIPIENT\tCREATED\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.State, e.AttemptCount, e.MaxAttempts,
			dash(e.Scope), e.Category, e.Recipient,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			shorten(e.LastError, 60))
	}
	return tw.Flush()
}

func writeEntryDetail(w io.Writer, e *mailq.Entry, withBody bool) {
	fmt.Fprintf(w, "ID:           %s\n", e.ID)
	fmt.Fprintf(w, "State:        %s\n", e.State)
	fmt.Fprintf(w, "Recipient:    %s\n", e.Recipient)
	fmt.Fprintf(w, "Subject:      %s\n", e.Subject)
	fmt.Fprintf(w, "Category:     %s\n", e.Category)
	fmt.Fprintf(w, "Scope:        %s\n", dash(e.Scope))
	if e.ReferenceID != "" {
		fmt.Fprintf(w, "Reference:    %s\n", e.ReferenceID)
	}
	fmt.Fprintf(w, "Attempts:     %d of %d\n", e.AttemptCount, e.MaxAttempts)
	fmt.Fprintf(w, "Created:      %s\n", e.CreatedAt.Local().Format(time.RFC3339))
	if e.State == mailq.StatePending {
		fmt.Fprintf(w, "Next attempt: %s\n", e.NextAttemptAt.Local().Format(time.RFC3339))
	}
	if e.LastAttemptAt != nil {
		fmt.Fprintf(w, "Last attempt: %s\n", e.LastAttemptAt.Local().Format(time.RFC3339))
	}
	if e.SentAt != nil {
		fmt.Fprintf(w, "Sent:         %s\n", e.SentAt.Local().Format(time.RFC3339))
	}
	if names := attachmentNames(e.Attachments); len(names) > 0 {
		fmt.Fprintf(w, "Attachments:  %s\n", strings.Join(names, ", "))
	}
	if e.LastError != "" {
		fmt.Fprintf(w, "Last error:   %s\n", e.LastError)
	}
	if withBody {
		fmt.Fprintf(w, "\n%s\n", e.Body)
	}
}

func writeStats(w io.Writer, s mailq.QueueStats) {
	fmt.Fprintf(w, "Pending:   %d\n", s.Pending)
	fmt.Fprintf(w, "Sent:      %d\n", s.Sent)
	fmt.Fprintf(w, "Failed:    %d\n", s.Failed)
	fmt.Fprintf(w, "Cancelled: %d\n", s.Cancelled)
	if s.Stuck > 0 {
		fmt.Fprintf(w, "Stuck:     %d (run 'mailq repair')\n", s.Stuck)
	}
	fmt.Fprintf(w, "Total:     %d\n", s.Total)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
