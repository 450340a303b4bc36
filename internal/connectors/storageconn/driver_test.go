package storageconn

import (
	"strings"
	"testing"
)

func TestValidateConfig_RequiresBaseURL(t *testing.T) {
	d := &Driver{}
	if err := d.ValidateConfig(map[string]any{}); err == nil {
		t.Fatal("expected error for missing baseUrl")
	}
	if err := d.ValidateConfig(map[string]any{"baseUrl": "https://dav.example.com/"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseContact_ExtractsNameEmailAndPhone(t *testing.T) {
	const card = "BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN:Ada Lovelace\r\n" +
		"EMAIL:ada@example.com\r\n" +
		"TEL:555-0100\r\n" +
		"END:VCARD\r\n"

	c, err := parseContact(strings.NewReader(card))
	if err != nil {
		t.Fatalf("parseContact: %v", err)
	}
	if c.FullName != "Ada Lovelace" {
		t.Errorf("FullName = %q, want Ada Lovelace", c.FullName)
	}
	if c.Email != "ada@example.com" {
		t.Errorf("Email = %q, want ada@example.com", c.Email)
	}
	if c.Phone != "555-0100" {
		t.Errorf("Phone = %q, want 555-0100", c.Phone)
	}
}
