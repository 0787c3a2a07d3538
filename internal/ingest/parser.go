package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"attendguard/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
	reSyslogTS  = regexp.MustCompile(`^\s*([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
)

var (
	timestampKeys  = []string{"timestamp", "time", "ts"}
	readerKeys     = []string{"reader_id", "reader", "readerid", "device", "terminal"}
	credentialKeys = []string{"rfid_tag", "credential", "uid", "card", "card_id", "cardid", "badge"}
	intentKeys     = []string{"action", "intent", "type"}
)

// Parser turns terminal log lines (JSON, CSV or key=value text) into swipe
// fields. A CSV header line is remembered for the following rows.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.SwipeFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := parseJSON(trim); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseJSON(line string) (*normalize.SwipeFields, error) {
	return ParseJSONBytes([]byte(line))
}

func parsePlain(line string) (*normalize.SwipeFields, error) {
	fields := &normalize.SwipeFields{Extras: map[string]string{}}
	ts, rest := extractTimestamp(line)
	fields.Timestamp = ts

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		key := strings.ToLower(match[1])
		kv[key] = match[2]
	}
	fields.ReaderID = firstNonEmpty(kv, readerKeys...)
	fields.Credential = firstNonEmpty(kv, credentialKeys...)
	fields.Intent = firstNonEmpty(kv, intentKeys...)
	for k, v := range kv {
		fields.Extras[k] = v
	}

	if fields.ReaderID == "" && rest != "" {
		tokens := strings.Fields(rest)
		if len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			fields.ReaderID = tokens[0]
		}
	}
	if fields.Timestamp == "" {
		if ts2, _ := extractTimestamp(rest); ts2 != "" {
			fields.Timestamp = ts2
		}
	}
	return fields, nil
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	m = reSyslogTS.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse reads one CSV row. Without a header the column order is
// timestamp, reader, credential, action.
func (p *CSVParser) Parse(line string) (*normalize.SwipeFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.SwipeFields{Extras: map[string]string{}}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	if len(record) >= 1 {
		fields.Timestamp = strings.TrimSpace(record[0])
	}
	if len(record) >= 2 {
		fields.ReaderID = strings.TrimSpace(record[1])
	}
	if len(record) >= 3 {
		fields.Credential = strings.TrimSpace(record[2])
	}
	if len(record) >= 4 {
		fields.Intent = strings.TrimSpace(record[3])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		for _, group := range [][]string{timestampKeys, readerKeys, credentialKeys, intentKeys} {
			for _, k := range group {
				if v == k {
					return true
				}
			}
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.SwipeFields, name string, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch {
	case oneOf(name, timestampKeys):
		fields.Timestamp = value
	case oneOf(name, readerKeys):
		fields.ReaderID = value
	case oneOf(name, credentialKeys):
		fields.Credential = value
	case oneOf(name, intentKeys):
		fields.Intent = value
	default:
		if fields.Extras != nil {
			fields.Extras[name] = value
		}
	}
}

func oneOf(name string, keys []string) bool {
	for _, k := range keys {
		if name == k {
			return true
		}
	}
	return false
}
