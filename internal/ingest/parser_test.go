package ingest

import "testing"

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	line := "2026-03-02 09:00:00 lobby-1 RFID_TAG=5F3C7A9E1B ACTION=break"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.ReaderID != "lobby-1" {
		t.Fatalf("reader id: %s", fields.ReaderID)
	}
	if fields.Credential != "5F3C7A9E1B" {
		t.Fatalf("credential: %s", fields.Credential)
	}
	if fields.Intent != "break" || fields.Timestamp != "2026-03-02 09:00:00" {
		t.Fatalf("intent/timestamp: %q %q", fields.Intent, fields.Timestamp)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,reader_id,rfid_tag,action"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("2026-03-02T09:00:00Z,lobby-1,5F3C7A9E1B,")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.ReaderID != "lobby-1" || fields.Credential != "5F3C7A9E1B" || fields.Intent != "" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseCSVWithoutHeader(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("2026-03-02T12:00:00Z,lobby-1,5F3C7A9E1B,break")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Credential != "5F3C7A9E1B" || fields.Intent != "break" {
		t.Fatalf("positional csv mismatch: %+v", fields)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"ts":1772442000,"terminal":"lobby-1","card":"5F3C7A9E1B","type":"break"}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.ReaderID != "lobby-1" || fields.Credential != "5F3C7A9E1B" || fields.Intent != "break" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.Timestamp != "1772442000" {
		t.Fatalf("unix timestamp mangled: %s", fields.Timestamp)
	}
}
