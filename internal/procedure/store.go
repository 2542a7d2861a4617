package procedure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Store is the read contract the engine requires from the procedure catalog.
// Implementations must be safe for concurrent reads; the engine never writes.
type Store interface {
	// Get resolves a procedure by name and version. Version accepts a
	// numeric string or VersionLatest (also the empty string), which
	// resolves to the highest published version.
	Get(ctx context.Context, name, version string) (Procedure, error)

	// List returns every active procedure, highest version per name.
	List(ctx context.Context) ([]Procedure, error)
}

// Catalog is an immutable in-memory Store loaded from YAML documents.
// All mutation happens at construction; reads need no locking.
type Catalog struct {
	byName map[string][]Procedure // sorted by ascending version
}

// catalogFile is the on-disk document shape:
//
//	procedures:
//	  - name: index_repository
//	    version: 2
//	    description: Scan and index a repository tree
//	    timeout_ms: 60000
//	    max_retries: 1
//	    definition:
//	      start: scan
//	      states:
//	        scan: {action: {tool: fileops, operation: list}, next: summarize}
//	        summarize: {action: {tool: search, operation: digest}, end: true}
type catalogFile struct {
	Procedures []Procedure `koanf:"procedures"`
}

// NewCatalog builds a catalog from already-parsed procedures.
func NewCatalog(procs []Procedure) (*Catalog, error) {
	c := &Catalog{byName: make(map[string][]Procedure)}
	for _, p := range procs {
		if err := validateProcedure(p); err != nil {
			return nil, err
		}
		c.byName[p.Name] = append(c.byName[p.Name], p)
	}
	for name := range c.byName {
		sort.Slice(c.byName[name], func(i, j int) bool {
			return c.byName[name][i].Version < c.byName[name][j].Version
		})
	}
	return c, nil
}

// LoadCatalogDir loads every *.yaml / *.yml file under dir into a catalog.
// A missing directory yields an empty catalog rather than an error, so the
// engine can run without any procedures published.
func LoadCatalogDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return NewCatalog(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory: %w", err)
	}

	var procs []Procedure
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file %s: %w", entry.Name(), err)
		}
		parsed, err := ParseCatalog(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse catalog file %s: %w", entry.Name(), err)
		}
		procs = append(procs, parsed...)
	}
	return NewCatalog(procs)
}

// ParseCatalog parses a single YAML catalog document.
func ParseCatalog(data []byte) ([]Procedure, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	var file catalogFile
	if err := k.Unmarshal("", &file); err != nil {
		return nil, fmt.Errorf("invalid catalog document: %w", err)
	}
	return file.Procedures, nil
}

func validateProcedure(p Procedure) error {
	if p.Name == "" {
		return fmt.Errorf("procedure missing name")
	}
	if p.Version <= 0 {
		return fmt.Errorf("procedure %s: version must be positive", p.Name)
	}
	if p.Definition.Start == "" {
		return fmt.Errorf("procedure %s: definition missing start state", p.Name)
	}
	if _, ok := p.Definition.States[p.Definition.Start]; !ok {
		return fmt.Errorf("procedure %s: start state %q not defined", p.Name, p.Definition.Start)
	}
	for name, state := range p.Definition.States {
		if state.End {
			continue
		}
		if state.Next == "" {
			return fmt.Errorf("procedure %s: state %q has no next state and is not terminal", p.Name, name)
		}
		if _, ok := p.Definition.States[state.Next]; !ok {
			return fmt.Errorf("procedure %s: state %q transitions to undefined state %q", p.Name, name, state.Next)
		}
	}
	return nil
}

// Get implements Store.
func (c *Catalog) Get(_ context.Context, name, version string) (Procedure, error) {
	versions, ok := c.byName[name]
	if !ok || len(versions) == 0 {
		return Procedure{}, &NotFoundError{Name: name, Version: version}
	}
	if version == "" || version == VersionLatest {
		return versions[len(versions)-1], nil
	}
	want, err := strconv.Atoi(strings.TrimPrefix(version, "v"))
	if err != nil {
		return Procedure{}, &NotFoundError{Name: name, Version: version}
	}
	for _, p := range versions {
		if p.Version == want {
			return p, nil
		}
	}
	return Procedure{}, &NotFoundError{Name: name, Version: version}
}

// List implements Store. It returns the highest version of each procedure,
// sorted by name for stable output.
func (c *Catalog) List(_ context.Context) ([]Procedure, error) {
	out := make([]Procedure, 0, len(c.byName))
	for _, versions := range c.byName {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
