package pipeline

import (
	"sort"
	"strings"
)

// ImportKind discriminates the closed set of import statement shapes.
type ImportKind int

const (
	// ImportPlain is `import a.b` (possibly aliased).
	ImportPlain ImportKind = iota
	// ImportFrom is `from a.b import x, y`.
	ImportFrom
	// ImportStar is `from a.b import *`.
	ImportStar
)

// ImportedName is one name brought in by a from-import.
type ImportedName struct {
	Name  string `msgpack:"name"`
	Alias string `msgpack:"alias,omitempty"`
}

// ImportStmt is a single parsed import statement.
type ImportStmt struct {
	Kind ImportKind `msgpack:"kind"`
	Line int        `msgpack:"line"`
	// Module is the dotted target, without leading dots. Empty for
	// `from . import x`.
	Module string `msgpack:"module"`
	// Relative counts leading dots on a from-import; zero for absolute.
	Relative int            `msgpack:"relative,omitempty"`
	Names    []ImportedName `msgpack:"names,omitempty"`
	// Unreachable imports were marked dead by top-level binding and
	// must not become graph edges.
	Unreachable bool `msgpack:"unreachable,omitempty"`
}

// SymbolKind discriminates the closed set of serializable symbol shapes.
type SymbolKind int

const (
	SymVar SymbolKind = iota
	SymFunc
	SymClass
	// SymModuleRef points at another module; the live reference is
	// reconstructed by FixCrossRefs after deserialization.
	SymModuleRef
)

// Symbol is one entry in a module's top-level symbol table.
type Symbol struct {
	Kind     SymbolKind `msgpack:"kind"`
	FullName string     `msgpack:"fullname"`
	Line     int        `msgpack:"line"`
	Public   bool       `msgpack:"public"`

	// ModuleID names the target module for SymModuleRef entries.
	ModuleID string `msgpack:"module_id,omitempty"`
	// Module is the live target; never serialized.
	Module *SourceFile `msgpack:"-"`

	// Bases and Linearization carry class hierarchy data for SymClass.
	Bases         []string `msgpack:"bases,omitempty"`
	Linearization []string `msgpack:"linearization,omitempty"`

	// Type is filled in by the type-checking pass.
	Type string `msgpack:"type,omitempty"`
}

// SourceFile is the analyzed tree for one module. It is produced either
// by parsing source text or by deserializing a cached analysis result.
type SourceFile struct {
	ID      string        `msgpack:"id"`
	Path    string        `msgpack:"path"`
	Imports []*ImportStmt `msgpack:"imports"`
	// Names is the module's top-level symbol table.
	Names map[string]*Symbol `msgpack:"names"`
	// IgnoredLines records lines carrying an ignore annotation; missing
	// imports on these lines are not diagnosed.
	IgnoredLines map[int]bool `msgpack:"ignored_lines,omitempty"`
}

// NewSourceFile returns an empty tree for the given module.
func NewSourceFile(id, path string) *SourceFile {
	return &SourceFile{
		ID:           id,
		Path:         path,
		Names:        make(map[string]*Symbol),
		IgnoredLines: make(map[int]bool),
	}
}

// IsPackage reports whether the module is a package __init__ file.
func (f *SourceFile) IsPackage() bool {
	base := f.Path
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	return strings.HasPrefix(base, "__init__.")
}

// PublicNames returns the sorted public top-level names of the module.
func (f *SourceFile) PublicNames() []string {
	var names []string
	for name, sym := range f.Names {
		if sym.Public {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
