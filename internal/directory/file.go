package directory

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"attendguard/internal/clock"
	"attendguard/internal/model"
)

type fileEntry struct {
	Code       string `json:"employee_id" yaml:"employee_id"`
	Credential string `json:"rfid_tag" yaml:"rfid_tag"`
	Name       string `json:"name" yaml:"name"`
	Department string `json:"department" yaml:"department"`
	Position   string `json:"position" yaml:"position"`
	JoinDate   string `json:"join_date" yaml:"join_date"`
}

type fileDoc struct {
	Employees []fileEntry `json:"employees" yaml:"employees"`
}

// LoadFile reads an employee directory from YAML, JSON or CSV. YAML and JSON
// take either a bare list or {employees: [...]}; CSV needs a header row.
func LoadFile(path string) ([]model.Employee, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []fileEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		entries, err = readCSV(f)
	case ".json":
		entries, err = readDoc(f, json.Unmarshal)
	default:
		entries, err = readDoc(f, yaml.Unmarshal)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return toEmployees(entries)
}

func readDoc(r io.Reader, unmarshal func([]byte, any) error) ([]fileEntry, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return nil, errors.New("directory file is empty")
	}
	var list []fileEntry
	if err := unmarshal([]byte(trimmed), &list); err == nil {
		return list, nil
	}
	var doc fileDoc
	if err := unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, err
	}
	return doc.Employees, nil
}

func readCSV(r io.Reader) ([]fileEntry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, errors.New("csv header missing")
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	out := make([]fileEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		var e fileEntry
		for i, value := range row {
			if i >= len(header) {
				break
			}
			value = strings.TrimSpace(value)
			switch header[i] {
			case "employee_id", "code":
				e.Code = value
			case "rfid_tag", "credential", "badge":
				e.Credential = value
			case "name":
				e.Name = value
			case "department":
				e.Department = value
			case "position":
				e.Position = value
			case "join_date":
				e.JoinDate = value
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func toEmployees(entries []fileEntry) ([]model.Employee, error) {
	out := make([]model.Employee, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for i, e := range entries {
		code := strings.TrimSpace(e.Code)
		credential := strings.TrimSpace(e.Credential)
		if code == "" || credential == "" {
			return nil, fmt.Errorf("entry %d: employee_id and rfid_tag are required", i+1)
		}
		key := strings.ToUpper(credential)
		if other, ok := seen[key]; ok && other != code {
			return nil, fmt.Errorf("entry %d: rfid_tag %s already assigned to %s", i+1, credential, other)
		}
		seen[key] = code
		emp := model.Employee{
			Code:       code,
			Credential: credential,
			Name:       strings.TrimSpace(e.Name),
			Department: strings.TrimSpace(e.Department),
			Position:   strings.TrimSpace(e.Position),
		}
		if e.JoinDate != "" {
			jd, err := clock.ParseDate(e.JoinDate, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i+1, err)
			}
			emp.JoinDate = jd
		}
		out = append(out, emp)
	}
	return out, nil
}
