package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Resource is one decoded FHIR resource.
type Resource struct {
	Type string
	ID   string
	JSON json.RawMessage
}

type header struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
}

type bundle struct {
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// Decode reads FHIR resources from data, which may hold a single resource,
// a JSON array of resources, a Bundle (its entries are returned, not the
// Bundle itself), or newline-delimited JSON.
func Decode(data []byte) ([]Resource, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("no resources in input")
	}

	if trimmed[0] == '[' {
		var docs []json.RawMessage
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, fmt.Errorf("decode JSON array: %w", err)
		}
		return decodeAll(docs)
	}

	var single json.RawMessage
	if err := json.Unmarshal(trimmed, &single); err == nil {
		return decodeOne(single)
	}
	return decodeNDJSON(trimmed)
}

func decodeOne(doc json.RawMessage) ([]Resource, error) {
	var h header
	if err := json.Unmarshal(doc, &h); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if h.ResourceType != "Bundle" {
		r, err := resource(doc)
		if err != nil {
			return nil, err
		}
		return []Resource{r}, nil
	}

	var b bundle
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	docs := make([]json.RawMessage, 0, len(b.Entry))
	for _, e := range b.Entry {
		if len(e.Resource) > 0 {
			docs = append(docs, e.Resource)
		}
	}
	return decodeAll(docs)
}

func decodeAll(docs []json.RawMessage) ([]Resource, error) {
	out := make([]Resource, 0, len(docs))
	for i, doc := range docs {
		rs, err := decodeOne(doc)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, rs...)
	}
	return out, nil
}

func decodeNDJSON(data []byte) ([]Resource, error) {
	var out []Resource
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		doc := json.RawMessage(bytes.Clone(text))
		if !json.Valid(doc) {
			return nil, fmt.Errorf("line %d: invalid JSON", line)
		}
		rs, err := decodeOne(doc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rs...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read NDJSON: %w", err)
	}
	return out, nil
}

func resource(doc json.RawMessage) (Resource, error) {
	var h header
	if err := json.Unmarshal(doc, &h); err != nil {
		return Resource{}, fmt.Errorf("decode resource: %w", err)
	}
	if h.ResourceType == "" {
		return Resource{}, errors.New("resource has no resourceType")
	}
	if h.ID == "" {
		return Resource{}, fmt.Errorf("%s resource has no id", h.ResourceType)
	}
	return Resource{Type: h.ResourceType, ID: h.ID, JSON: doc}, nil
}

// Group splits resources by type, keeping input order within each type.
func Group(resources []Resource) map[string][]Resource {
	out := make(map[string][]Resource)
	for _, r := range resources {
		out[r.Type] = append(out[r.Type], r)
	}
	return out
}
