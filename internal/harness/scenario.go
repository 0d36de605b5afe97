package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fhirsql/internal/testutil"
)

// Scenario is one conformance case.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// ResourceType is the driving resource. Defaults to Patient.
	ResourceType string `yaml:"resource_type,omitempty"`

	// Fixtures names shared populations to load: "patients",
	// "observations".
	Fixtures []string `yaml:"fixtures,omitempty"`

	// Resources are loaded after the fixtures, so an inline resource
	// replaces a fixture with the same type and id.
	Resources []map[string]any `yaml:"resources,omitempty"`

	Variables map[string]any `yaml:"variables,omitempty"`

	Expression string `yaml:"expression"`

	Expect Expect `yaml:"expect"`
}

// Expect holds the expected outcome. Exactly one of Rows and ErrorCode is
// set.
type Expect struct {
	// Rows maps each record id to its expected result collection. Every
	// record of the driving table must be listed.
	Rows map[string][]any `yaml:"rows,omitempty"`

	// ErrorCode is the expected TranslationError code.
	ErrorCode string `yaml:"error_code,omitempty"`

	// CTECount, when set, is the expected number of CTEs.
	CTECount *int `yaml:"cte_count,omitempty"`

	// SQLContains lists substrings the generated SQL must contain.
	SQLContains []string `yaml:"sql_contains,omitempty"`
}

var fixtures = map[string][]json.RawMessage{
	"patients":     testutil.Patients,
	"observations": testutil.Observations,
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so that typos do not silently disable an expectation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if s.ResourceType == "" {
		s.ResourceType = "Patient"
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(p), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(p)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Expression == "" {
		return fmt.Errorf("expression is required")
	}
	for _, f := range s.Fixtures {
		if _, ok := fixtures[f]; !ok {
			return fmt.Errorf("unknown fixture %q", f)
		}
	}
	for i, r := range s.Resources {
		if _, ok := r["resourceType"].(string); !ok {
			return fmt.Errorf("resources[%d]: resourceType is required", i)
		}
		if _, ok := r["id"].(string); !ok {
			return fmt.Errorf("resources[%d]: id is required", i)
		}
	}

	switch {
	case s.Expect.Rows == nil && s.Expect.ErrorCode == "":
		return fmt.Errorf("expect: rows or error_code is required")
	case s.Expect.Rows != nil && s.Expect.ErrorCode != "":
		return fmt.Errorf("expect: rows and error_code are mutually exclusive")
	}
	if s.Expect.CTECount != nil && *s.Expect.CTECount < 0 {
		return fmt.Errorf("expect: cte_count must be non-negative")
	}
	return nil
}

// documents returns the fixture and inline resources as JSON documents.
func (s *Scenario) documents() ([]json.RawMessage, error) {
	var docs []json.RawMessage
	for _, f := range s.Fixtures {
		docs = append(docs, fixtures[f]...)
	}
	for i, r := range s.Resources {
		doc, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("resources[%d]: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
