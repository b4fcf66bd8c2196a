// Package dataset parses case files and enforces the case schema.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

var (
	ErrInvalidPayload = errors.New("invalid dataset payload")
	ErrInvalidCase    = errors.New("invalid test case")
)

// validate caches struct metadata and is safe for concurrent use.
var validate = validator.New()

// File is the on-disk and upload format.
type File struct {
	Name      string        `json:"name,omitempty"`
	TestCases []models.Case `json:"test_cases"`
}

// Parse decodes a dataset document. The top-level test_cases array is required.
func Parse(r io.Reader) (*File, error) {
	var raw struct {
		Name      string          `json:"name"`
		TestCases json.RawMessage `json:"test_cases"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	trimmed := strings.TrimSpace(string(raw.TestCases))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("%w: file must contain a top-level test_cases array", ErrInvalidPayload)
	}

	f := &File{Name: raw.Name}
	if err := json.Unmarshal(raw.TestCases, &f.TestCases); err != nil {
		return nil, fmt.Errorf("%w: test_cases: %v", ErrInvalidPayload, err)
	}
	return f, nil
}

// Load reads and parses a dataset file from disk.
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Validate checks every case against its struct constraints and rejects
// duplicate ids.
func Validate(cases []models.Case) error {
	seen := make(map[string]struct{}, len(cases))
	for i, c := range cases {
		if err := validate.Struct(c); err != nil {
			return fmt.Errorf("%w: case %d (%q): %s", ErrInvalidCase, i, c.ID, describe(err))
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: duplicate case id %q", ErrInvalidCase, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// New validates the file and builds a version 1 dataset for tenantID.
// An empty name falls back to fallbackName.
func (f *File) New(tenantID uuid.UUID, fallbackName string) (*models.Dataset, error) {
	if err := Validate(f.TestCases); err != nil {
		return nil, err
	}
	name := f.Name
	if name == "" {
		name = fallbackName
	}
	cases := f.TestCases
	if cases == nil {
		cases = []models.Case{}
	}
	return &models.Dataset{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		Version:   1,
		Cases:     cases,
		CreatedAt: time.Now().UTC(),
	}, nil
}
