package programs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/harun/parley/pkg/dialogue"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnknownProgram  = errors.New("unknown program")
	ErrInvalidInput    = errors.New("invalid input")
	ErrVersionMismatch = errors.New("program version mismatch")
)

// DefaultVersion is assumed for definitions that declare none
const DefaultVersion = "1.0.0"

// Definition describes a named conversation program
type Definition struct {
	Name        string
	Description string
	// Version is a semantic version; empty means DefaultVersion
	Version string
	// New returns a fresh program for one conversation
	New func() dialogue.Program
	// StartSchema validates the first input; nil accepts anything
	StartSchema map[string]interface{}
	// InputSchema validates every later input; nil accepts anything
	InputSchema map[string]interface{}
}

// Info is the public description of a registered program
type Info struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description,omitempty"`
	StartSchema map[string]interface{} `json:"start_schema,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

type entry struct {
	def     Definition
	version *semver.Version
	start *gojsonschema.Schema
	input *gojsonschema.Schema
}

// Catalog maps program names to definitions
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]*entry)}
}

// Default returns a catalog with the built-in programs registered
func Default() *Catalog {
	c := NewCatalog()
	for _, def := range []Definition{EchoDefinition(), GuessDefinition(), SurveyDefinition(DefaultQuestions)} {
		if err := c.Register(def); err != nil {
			log.Error().Err(err).Str("program", def.Name).Msg("Failed to register built-in program")
		}
	}
	return c
}

// Register adds def, replacing any program with the same name
func (c *Catalog) Register(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("program name is required")
	}
	if def.New == nil {
		return fmt.Errorf("program %q has no constructor", def.Name)
	}

	if def.Version == "" {
		def.Version = DefaultVersion
	}
	version, err := semver.NewVersion(def.Version)
	if err != nil {
		return fmt.Errorf("program %q has invalid version %s: %w", def.Name, def.Version, err)
	}

	e := &entry{def: def, version: version}
	if e.start, err = compileSchema(def.StartSchema); err != nil {
		return fmt.Errorf("program %q start schema: %w", def.Name, err)
	}
	if e.input, err = compileSchema(def.InputSchema); err != nil {
		return fmt.Errorf("program %q input schema: %w", def.Name, err)
	}

	c.mu.Lock()
	c.entries[def.Name] = e
	c.mu.Unlock()

	log.Debug().Str("program", def.Name).Str("version", version.String()).Msg("Program registered")
	return nil
}

// Program returns a fresh instance of the named program
func (c *Catalog) Program(name string) (dialogue.Program, error) {
	e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.def.New(), nil
}

// CheckVersion verifies that the named program satisfies a semver
// constraint such as "^1.2" or ">= 2.0, < 3". An empty constraint matches
// any version.
func (c *Catalog) CheckVersion(name, constraint string) error {
	e, err := c.lookup(name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(constraint) == "" {
		return nil
	}

	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("%w: invalid version constraint %q: %v", ErrInvalidInput, constraint, err)
	}
	if !cons.Check(e.version) {
		return fmt.Errorf("%w: %s %s does not satisfy %s", ErrVersionMismatch, name, e.version, constraint)
	}
	return nil
}

// Has reports whether name is registered
func (c *Catalog) Has(name string) bool {
	_, err := c.lookup(name)
	return err == nil
}

// ValidateStart checks a first input against the program's start schema
func (c *Catalog) ValidateStart(name string, input interface{}) error {
	e, err := c.lookup(name)
	if err != nil {
		return err
	}
	return validate(e.start, input)
}

// ValidateInput checks a later input against the program's input schema
func (c *Catalog) ValidateInput(name string, input interface{}) error {
	e, err := c.lookup(name)
	if err != nil {
		return err
	}
	return validate(e.input, input)
}

// Names returns the registered program names, sorted
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// List describes every registered program, sorted by name
func (c *Catalog) List() []Info {
	names := c.Names()
	infos := make([]Info, 0, len(names))

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range names {
		e, ok := c.entries[name]
		if !ok {
			continue
		}
		infos = append(infos, Info{
			Name:        e.def.Name,
			Version:     e.version.String(),
			Description: e.def.Description,
			StartSchema: e.def.StartSchema,
			InputSchema: e.def.InputSchema,
		})
	}
	return infos
}

func (c *Catalog) lookup(name string) (*entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProgram, name)
	}
	return e, nil
}

func compileSchema(schema map[string]interface{}) (*gojsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}

func validate(schema *gojsonschema.Schema, input interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
	}
	return nil
}
