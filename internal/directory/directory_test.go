package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"attendguard/internal/model"
	"attendguard/internal/storage"
)

type countingBackend struct {
	storage.Store
	lookups int
}

func (c *countingBackend) FindEmployeeByCredential(ctx context.Context, credential string) (model.Employee, error) {
	c.lookups++
	return c.Store.FindEmployeeByCredential(ctx, credential)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFileFormats(t *testing.T) {
	yamlPath := writeFile(t, "employees.yaml", `
employees:
  - employee_id: EMP001
    rfid_tag: 5F3C7A9E1B
    name: John Smith
    department: Engineering
    join_date: 2024-01-15
`)
	jsonPath := writeFile(t, "employees.json", `[{"employee_id":"EMP002","rfid_tag":"A1B2C3D4E5","name":"Jane Doe"}]`)
	csvPath := writeFile(t, "employees.csv", "employee_id,name,rfid_tag\nEMP003,Ann Lee,0011223344\n")

	for _, tc := range []struct {
		path string
		code string
	}{{yamlPath, "EMP001"}, {jsonPath, "EMP002"}, {csvPath, "EMP003"}} {
		list, err := LoadFile(tc.path)
		if err != nil {
			t.Fatalf("load %s: %v", tc.path, err)
		}
		if len(list) != 1 || list[0].Code != tc.code || list[0].Credential == "" {
			t.Fatalf("unexpected entries from %s: %+v", tc.path, list)
		}
	}
}

func TestLoadFileRejectsDuplicateCredential(t *testing.T) {
	path := writeFile(t, "dup.csv", "employee_id,rfid_tag\nEMP001,AAA\nEMP002,aaa\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected duplicate credential error")
	}
}

func TestFindByCredentialCachesHits(t *testing.T) {
	backend := &countingBackend{Store: storage.NewMemory()}
	dir, err := New(backend, 8)
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	ctx := context.Background()
	list, err := LoadFile(writeFile(t, "e.json", `[{"employee_id":"EMP001","rfid_tag":"5F3C7A9E1B","name":"John"}]`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n, err := dir.Import(ctx, list); err != nil || n != 1 {
		t.Fatalf("import: %d %v", n, err)
	}

	if _, err := dir.FindByCredential(ctx, "NOPE"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	for i := 0; i < 3; i++ {
		emp, err := dir.FindByCredential(ctx, "5f3c7a9e1b")
		if err != nil || emp.Code != "EMP001" {
			t.Fatalf("lookup %d: %+v %v", i, emp, err)
		}
	}
	if backend.lookups != 2 {
		t.Fatalf("expected one miss plus one load, got %d backend lookups", backend.lookups)
	}
}
