package emailconn

import (
	"strings"
	"testing"
)

func TestValidateConfig_RequiresAccountIDHostUsernamePassword(t *testing.T) {
	d := &Driver{}

	cases := []struct {
		name string
		cfg  map[string]any
		ok   bool
	}{
		{"empty", map[string]any{}, false},
		{"missing password", map[string]any{
			"accountId": "acct-1", "host": "imap.example.com", "username": "u",
		}, false},
		{"complete", map[string]any{
			"accountId": "acct-1", "host": "imap.example.com", "username": "u", "password": "p",
		}, true},
	}

	for _, tc := range cases {
		err := d.ValidateConfig(tc.cfg)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestComposeMessage_RendersMarkdownToHTMLAndPlainParts(t *testing.T) {
	msg, err := composeMessage("sender@example.com", []string{"a@example.com", "b@example.com"}, "Hi there", "**bold** text")
	if err != nil {
		t.Fatalf("composeMessage: %v", err)
	}
	s := string(msg)
	if !strings.Contains(s, "Subject: Hi there") {
		t.Errorf("message missing subject header:\n%s", s)
	}
	if !strings.Contains(s, "text/html") || !strings.Contains(s, "text/plain") {
		t.Errorf("message missing multipart/alternative parts:\n%s", s)
	}
	if !strings.Contains(s, "<strong>bold</strong>") {
		t.Errorf("expected rendered HTML bold tag, got:\n%s", s)
	}
}

func TestComposeMessage_RejectsInvalidAddress(t *testing.T) {
	if _, err := composeMessage("not-an-address", []string{"a@example.com"}, "s", "b"); err == nil {
		t.Fatal("expected error for invalid from address")
	}
}

func TestMarkdownToPlain_StripsFormattingKeepsLinkTarget(t *testing.T) {
	got := markdownToPlain("## motion at **cam-7**\nsee [clip](https://example.com/clip)")
	if strings.Contains(got, "**") || strings.Contains(got, "##") {
		t.Errorf("expected markdown markers stripped, got %q", got)
	}
	if !strings.Contains(got, "clip (https://example.com/clip)") {
		t.Errorf("expected link target preserved, got %q", got)
	}
	if !strings.Contains(got, "motion at cam-7") {
		t.Errorf("expected heading text preserved without markers, got %q", got)
	}
}
