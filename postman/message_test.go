package postman

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildMessageFormatsSections(t *testing.T) {
	fields := []*Field{
		{Name: "visitor", Label: "Your name"},
		{Name: "topics"},
		{Name: "submit-button", Exclude: true},
	}
	data := url.Values{
		"visitor":       {"Alice"},
		"topics":        {"sales", "support"},
		"submit-button": {"Send"},
	}

	got := BuildMessage(fields, data)
	want := "Your name: Alice\n\ntopics: sales, support"

	if got != want {
		t.Errorf("message mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestBuildMessageStripsMarkup(t *testing.T) {
	fields := []*Field{{Name: "message"}}
	data := url.Values{"message": {`Hello <script>alert(1)</script><b>world</b>`}}

	got := BuildMessage(fields, data)
	if strings.Contains(got, "<") {
		t.Errorf("markup should be stripped, got %q", got)
	}
	if !strings.Contains(got, "world") {
		t.Errorf("text content should survive, got %q", got)
	}
}

func TestEncodeFieldDataKeepsDefinitions(t *testing.T) {
	fields := []*Field{
		{Name: "email", Label: "Email", Required: true},
		{Name: "topics"},
		{Name: "button", Exclude: true},
	}
	data := url.Values{
		"email":  {"someone@example.com"},
		"topics": {"a", "b"},
	}

	blob, err := encodeFieldData(fields, data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(blob, &records); err != nil {
		t.Fatalf("blob is not valid json: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	if records[0]["required"] != true || records[0]["value"] != "someone@example.com" {
		t.Errorf("unexpected first record: %v", records[0])
	}
	if diff := cmp.Diff([]any{"a", "b"}, records[1]["value"]); diff != "" {
		t.Errorf("multi-valued field mismatch (-want +got):\n%s", diff)
	}
	if records[2]["exclude"] != true {
		t.Errorf("excluded field should be flagged in the blob: %v", records[2])
	}
}

func TestFlattenHeadersSortsKeys(t *testing.T) {
	got := flattenHeaders(map[string]string{
		"Reply-To": "a@example.com",
		"From":     "b@example.com",
	})
	want := "From: b@example.com\nReply-To: a@example.com"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMessageHeadersFoldSenderAndCopies(t *testing.T) {
	msg := &Message{
		From:    "postman@example.com",
		Cc:      "cc@example.com",
		Headers: map[string]string{"Reply-To": "visitor@example.com"},
	}

	headers := msg.headers()
	if headers["From"] != "postman@example.com" || headers["Cc"] != "cc@example.com" {
		t.Errorf("sender and copies should be folded in: %v", headers)
	}
	if _, ok := headers["Bcc"]; ok {
		t.Error("empty bcc should not produce a header")
	}
}

func TestDumpMailerWritesInsteadOfSending(t *testing.T) {
	var buf bytes.Buffer
	mailer := &DumpMailer{Out: &buf}

	err := mailer.Send(context.Background(), &Message{
		To:      "admin@example.com",
		Subject: "Website Enquiry",
		Body:    "name: Alice",
	})
	if err != nil {
		t.Fatalf("dump send: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"admin@example.com", "Website Enquiry", "name: Alice"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump output missing %q:\n%s", want, out)
		}
	}
}
