// Package schema provides FHIR element metadata: which properties exist on a
// type, their element types, cardinality, and choice ([x]) expansion.
//
// The catalogue is written in CUE and compiled at first use. Callers may load
// their own catalogue with LoadFile or Parse; the translator only needs the
// lookup surface.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed fhir.cue
var catalogueCUE []byte

// Type kinds declared in the catalogue.
const (
	KindResource = "resource"
	KindDatatype = "datatype"
	KindBackbone = "backbone"
)

// Element describes one property of a type.
type Element struct {
	// Name is the JSON property name. For choice elements this is the base
	// name without the [x] suffix ("value").
	Name string

	// Types lists the allowed element types. Choice elements list every
	// alternative; other elements list exactly one.
	Types []string

	// Max is "1" or "*".
	Max string

	// Choice is true for [x] elements before type selection.
	Choice bool
}

// Repeating reports whether the element may hold more than one value and is
// therefore serialized as a JSON array.
func (e Element) Repeating() bool {
	return e.Max == "*"
}

// Type returns the single element type, or "" for an unresolved choice.
func (e Element) Type() string {
	if e.Choice || len(e.Types) != 1 {
		return ""
	}
	return e.Types[0]
}

// TypeDef is a catalogue entry.
type TypeDef struct {
	Name     string
	Kind     string
	Elements map[string]Element
}

// Schema is an immutable element catalogue. Safe for concurrent use.
type Schema struct {
	types map[string]*TypeDef
}

var (
	defaultOnce   sync.Once
	defaultSchema *Schema
	defaultErr    error
)

// Default returns the embedded catalogue. The embedded source is compiled
// once; a failure here indicates a broken build and panics.
func Default() *Schema {
	defaultOnce.Do(func() {
		defaultSchema, defaultErr = Parse(catalogueCUE, "fhir.cue")
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("schema: embedded catalogue: %v", defaultErr))
	}
	return defaultSchema
}

// LoadFile compiles a CUE catalogue from disk.
func LoadFile(path string) (*Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return Parse(src, path)
}

// Parse compiles a CUE catalogue. The source must define a top-level
// `types` struct keyed by type name.
func Parse(src []byte, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	typesVal := value.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil, fmt.Errorf("%s: missing top-level 'types'", filename)
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{types: make(map[string]*TypeDef)}
	for iter.Next() {
		def, err := parseTypeDef(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.types[def.Name] = def
	}
	return s, nil
}

func parseTypeDef(name string, v cue.Value) (*TypeDef, error) {
	def := &TypeDef{
		Name:     name,
		Kind:     KindDatatype,
		Elements: make(map[string]Element),
	}

	if kindVal := v.LookupPath(cue.ParsePath("kind")); kindVal.Exists() {
		kind, err := kindVal.String()
		if err != nil {
			return nil, fmt.Errorf("type %s: kind: %w", name, formatCUEError(err))
		}
		def.Kind = kind
	}

	elemsVal := v.LookupPath(cue.ParsePath("elements"))
	if !elemsVal.Exists() {
		return def, nil
	}

	iter, err := elemsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		label := iter.Selector().Unquoted()
		elem, err := parseElement(label, iter.Value())
		if err != nil {
			return nil, fmt.Errorf("type %s: element %s: %w", name, label, err)
		}
		def.Elements[elem.Name] = elem
	}
	return def, nil
}

func parseElement(label string, v cue.Value) (Element, error) {
	elem := Element{Name: label, Max: "1"}

	if base, ok := strings.CutSuffix(label, "[x]"); ok {
		elem.Name = base
		elem.Choice = true
	}

	if maxVal := v.LookupPath(cue.ParsePath("max")); maxVal.Exists() {
		card, err := maxVal.String()
		if err != nil {
			return elem, formatCUEError(err)
		}
		if card != "1" && card != "*" {
			return elem, fmt.Errorf("max must be \"1\" or \"*\", got %q", card)
		}
		elem.Max = card
	}

	if elem.Choice {
		var types []string
		if err := v.LookupPath(cue.ParsePath("types")).Decode(&types); err != nil {
			return elem, fmt.Errorf("choice element needs 'types': %w", formatCUEError(err))
		}
		if len(types) == 0 {
			return elem, fmt.Errorf("choice element needs at least one type")
		}
		elem.Types = types
		return elem, nil
	}

	typ, err := v.LookupPath(cue.ParsePath("type")).String()
	if err != nil {
		return elem, fmt.Errorf("element needs 'type': %w", formatCUEError(err))
	}
	elem.Types = []string{typ}
	return elem, nil
}

// HasType reports whether the catalogue describes the type. Types without a
// catalogue entry are open.
func (s *Schema) HasType(name string) bool {
	_, ok := s.types[name]
	return ok
}

// IsResource reports whether name is a resource type in the catalogue.
func (s *Schema) IsResource(name string) bool {
	def, ok := s.types[name]
	return ok && def.Kind == KindResource
}

// TypeNames returns every catalogued type name, sorted.
func (s *Schema) TypeNames() []string {
	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Elements returns the property names of a type, sorted. Choice elements are
// listed by their base name.
func (s *Schema) Elements(typeName string) []string {
	def, ok := s.types[typeName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(def.Elements))
	for name := range def.Elements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a property on a type. It accepts both a choice base name
// ("value") and a type-suffixed choice property ("valueQuantity"); the latter
// resolves to a non-choice element of the selected type.
func (s *Schema) Lookup(typeName, property string) (Element, bool) {
	def, ok := s.types[typeName]
	if !ok {
		return Element{}, false
	}
	if elem, ok := def.Elements[property]; ok {
		return elem, true
	}

	for _, elem := range def.Elements {
		if !elem.Choice || !strings.HasPrefix(property, elem.Name) {
			continue
		}
		for _, typ := range elem.Types {
			if ChoiceProperty(elem.Name, typ) == property {
				return Element{Name: property, Types: []string{typ}, Max: elem.Max}, true
			}
		}
	}
	return Element{}, false
}

// ChoiceProperty returns the JSON property for a choice element narrowed to
// one type: ("value", "Quantity") → "valueQuantity", ("deceased", "boolean")
// → "deceasedBoolean".
func ChoiceProperty(base, typ string) string {
	if typ == "" {
		return base
	}
	return base + strings.ToUpper(typ[:1]) + typ[1:]
}

// formatCUEError reduces a CUE error list to its first entry with position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 && positions[0].IsValid() {
		pos := positions[0]
		return fmt.Errorf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), first.Error())
	}
	return first
}
