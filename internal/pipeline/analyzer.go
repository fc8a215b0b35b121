package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/vk/modbuildgo/internal/ctxlog"
	"github.com/vk/modbuildgo/internal/diag"
)

// Analyzer is the reference Passes implementation. It understands a
// small Python-like surface: import statements, top-level def/class/
// assignment, ignore annotations, and statically dead blocks. It exists
// to exercise every scheduler path; it is not a real front end.
type Analyzer struct {
	collector *diag.Collector
	// modules is the shared module table, written by each module's own
	// processing step and read by siblings during semantic analysis.
	modules map[string]*SourceFile
	typeMap map[string]string

	// defs holds parsed top-level definitions until BindTopLevel
	// registers them; they never outlive the pass sequence.
	defs map[*SourceFile][]parsedDef
}

type parsedDef struct {
	kind  SymbolKind
	name  string
	line  int
	bases []string
}

// NewAnalyzer returns an Analyzer recording diagnostics in collector and
// sharing the given module table with the build manager.
func NewAnalyzer(collector *diag.Collector, modules map[string]*SourceFile) *Analyzer {
	return &Analyzer{
		collector: collector,
		modules:   modules,
		typeMap:   make(map[string]string),
		defs:      make(map[*SourceFile][]parsedDef),
	}
}

// TypeMap returns the accumulated symbol-to-type mapping.
func (a *Analyzer) TypeMap() map[string]string {
	return a.typeMap
}

var (
	defRe    = regexp.MustCompile(`^def\s+(\w+)\s*\(`)
	classRe  = regexp.MustCompile(`^class\s+(\w+)\s*(?:\(([^)]*)\))?\s*:`)
	assignRe = regexp.MustCompile(`^(\w+)\s*=`)
	deadRe   = regexp.MustCompile(`^if\s+(False|TYPE_CHECKING)\s*:`)
)

// Parse scans source text line by line, collecting imports and top-level
// definitions. Malformed imports are blocking syntax errors.
func (a *Analyzer) Parse(ctx context.Context, text, path, id string) *SourceFile {
	ctxlog.FromContext(ctx).Debug("Parsing module.", "id", id, "path", path)
	file := NewSourceFile(id, path)
	a.collector.SetFile(path)

	inDeadBlock := false
	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		if strings.Contains(raw, "# type: ignore") {
			file.IgnoredLines[lineNo] = true
		}
		line := stripComment(raw)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		indented := line != trimmed

		if !indented {
			inDeadBlock = deadRe.MatchString(trimmed)
			if inDeadBlock {
				continue
			}
		}

		switch {
		case strings.HasPrefix(trimmed, "import ") || trimmed == "import":
			stmt := a.parseImport(trimmed, lineNo)
			if stmt != nil {
				stmt.Unreachable = indented && inDeadBlock
				file.Imports = append(file.Imports, stmt)
			}
		case strings.HasPrefix(trimmed, "from ") || trimmed == "from":
			stmt := a.parseFromImport(trimmed, lineNo)
			if stmt != nil {
				stmt.Unreachable = indented && inDeadBlock
				file.Imports = append(file.Imports, stmt)
			}
		case !indented:
			a.parseDef(file, trimmed, lineNo)
		}
	}
	return file
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		return line[:i]
	}
	return line
}

func (a *Analyzer) parseImport(stmt string, line int) *ImportStmt {
	rest := strings.TrimSpace(strings.TrimPrefix(stmt, "import"))
	if rest == "" {
		a.collector.Report(line, "invalid syntax", diag.Blocker())
		return nil
	}
	out := &ImportStmt{Kind: ImportPlain, Line: line}
	for _, part := range strings.Split(rest, ",") {
		name, alias := splitAs(part)
		if name == "" {
			a.collector.Report(line, "invalid syntax", diag.Blocker())
			return nil
		}
		if out.Module == "" {
			out.Module = name
		}
		out.Names = append(out.Names, ImportedName{Name: name, Alias: alias})
	}
	return out
}

func (a *Analyzer) parseFromImport(stmt string, line int) *ImportStmt {
	rest := strings.TrimSpace(strings.TrimPrefix(stmt, "from"))
	mod, namesPart, found := strings.Cut(rest, " import ")
	if !found || strings.TrimSpace(namesPart) == "" {
		a.collector.Report(line, "invalid syntax", diag.Blocker())
		return nil
	}
	mod = strings.TrimSpace(mod)
	dots := 0
	for dots < len(mod) && mod[dots] == '.' {
		dots++
	}
	out := &ImportStmt{Kind: ImportFrom, Line: line, Module: mod[dots:], Relative: dots}
	namesPart = strings.TrimSpace(namesPart)
	if namesPart == "*" {
		out.Kind = ImportStar
		return out
	}
	for _, part := range strings.Split(namesPart, ",") {
		name, alias := splitAs(part)
		if name == "" {
			a.collector.Report(line, "invalid syntax", diag.Blocker())
			return nil
		}
		out.Names = append(out.Names, ImportedName{Name: name, Alias: alias})
	}
	return out
}

func splitAs(part string) (name, alias string) {
	fields := strings.Fields(part)
	switch {
	case len(fields) == 1:
		return fields[0], ""
	case len(fields) == 3 && fields[1] == "as":
		return fields[0], fields[2]
	}
	return "", ""
}

func (a *Analyzer) parseDef(file *SourceFile, line string, lineNo int) {
	if m := defRe.FindStringSubmatch(line); m != nil {
		a.defs[file] = append(a.defs[file], parsedDef{kind: SymFunc, name: m[1], line: lineNo})
		return
	}
	if m := classRe.FindStringSubmatch(line); m != nil {
		var bases []string
		for _, b := range strings.Split(m[2], ",") {
			if b = strings.TrimSpace(b); b != "" {
				bases = append(bases, b)
			}
		}
		a.defs[file] = append(a.defs[file], parsedDef{kind: SymClass, name: m[1], line: lineNo, bases: bases})
		return
	}
	if m := assignRe.FindStringSubmatch(line); m != nil {
		a.defs[file] = append(a.defs[file], parsedDef{kind: SymVar, name: m[1], line: lineNo})
	}
}

// BindTopLevel registers the module's own top-level definitions in its
// symbol table. Runs before dependency extraction so unreachable-import
// marking (done structurally during Parse) is already in effect.
func (a *Analyzer) BindTopLevel(ctx context.Context, file *SourceFile) {
	for _, d := range a.defs[file] {
		if _, exists := file.Names[d.name]; exists {
			continue
		}
		file.Names[d.name] = &Symbol{
			Kind:     d.kind,
			FullName: file.ID + "." + d.name,
			Line:     d.line,
			Public:   !strings.HasPrefix(d.name, "_"),
			Bases:    d.bases,
		}
	}
	delete(a.defs, file)
}

// AnalyzeSemantics resolves imported names against sibling module
// tables. The scheduler guarantees every cycle sibling has completed
// top-level binding before this runs.
func (a *Analyzer) AnalyzeSemantics(ctx context.Context, file *SourceFile) {
	a.collector.SetFile(file.Path)
	for _, imp := range file.Imports {
		if imp.Unreachable {
			continue
		}
		switch imp.Kind {
		case ImportPlain:
			a.bindPlainImport(file, imp)
		case ImportFrom:
			a.bindFromImport(file, imp)
		case ImportStar:
			a.bindStarImport(file, imp)
		}
	}
}

func (a *Analyzer) bindPlainImport(file *SourceFile, imp *ImportStmt) {
	for _, entry := range imp.Names {
		local := entry.Alias
		target := entry.Name
		if local == "" {
			// `import a.b` binds the top-level package name.
			local, _, _ = strings.Cut(entry.Name, ".")
			target = local
		}
		if _, ok := a.modules[target]; !ok {
			continue
		}
		file.Names[local] = &Symbol{
			Kind:     SymModuleRef,
			FullName: file.ID + "." + local,
			Line:     imp.Line,
			Public:   true,
			ModuleID: target,
			Module:   a.modules[target],
		}
	}
}

func (a *Analyzer) bindFromImport(file *SourceFile, imp *ImportStmt) {
	modID := file.CorrectRelative(imp.Relative, imp.Module)
	target, ok := a.modules[modID]
	if !ok {
		// Missing module; already diagnosed during graph discovery.
		return
	}
	for _, entry := range imp.Names {
		local := entry.Alias
		if local == "" {
			local = entry.Name
		}
		if sym, ok := target.Names[entry.Name]; ok {
			file.Names[local] = sym
			continue
		}
		subID := modID + "." + entry.Name
		if sub, ok := a.modules[subID]; ok {
			file.Names[local] = &Symbol{
				Kind:     SymModuleRef,
				FullName: file.ID + "." + local,
				Line:     imp.Line,
				Public:   true,
				ModuleID: subID,
				Module:   sub,
			}
			continue
		}
		if !file.IgnoredLines[imp.Line] {
			a.collector.Report(imp.Line, "Module '"+modID+"' has no attribute '"+entry.Name+"'")
		}
	}
}

func (a *Analyzer) bindStarImport(file *SourceFile, imp *ImportStmt) {
	modID := file.CorrectRelative(imp.Relative, imp.Module)
	target, ok := a.modules[modID]
	if !ok {
		return
	}
	for name, sym := range target.Names {
		if sym.Public && !strings.HasPrefix(name, "_") {
			if _, exists := file.Names[name]; !exists {
				file.Names[name] = sym
			}
		}
	}
}

// AnalyzeSemanticsPass3 validates class bases and computes hierarchy
// linearizations, now that every sibling's symbol table is complete.
func (a *Analyzer) AnalyzeSemanticsPass3(ctx context.Context, file *SourceFile) {
	a.collector.SetFile(file.Path)
	for _, sym := range file.Names {
		if sym.Kind != SymClass || !strings.HasPrefix(sym.FullName, file.ID+".") {
			continue
		}
		for _, base := range sym.Bases {
			if resolveName(file, base, a.modules) == nil {
				if !file.IgnoredLines[sym.Line] {
					a.collector.Report(sym.Line, "Name '"+base+"' is not defined")
				}
			}
		}
	}
	Linearize(file, a.modules)
}

// TypeCheck assigns a type to every symbol owned by the module.
func (a *Analyzer) TypeCheck(ctx context.Context, file *SourceFile) {
	for _, sym := range file.Names {
		if !strings.HasPrefix(sym.FullName, file.ID+".") {
			continue
		}
		var t string
		switch sym.Kind {
		case SymFunc:
			t = "Callable"
		case SymClass:
			t = "type"
		case SymModuleRef:
			t = "Module"
		case SymVar:
			t = "Any"
		}
		sym.Type = t
		a.typeMap[sym.FullName] = t
	}
}

// CorrectRelative resolves a relative import against the importing
// module's own dotted name. A package __init__ counts as one level
// shallower. Returns "" when the dots escape the enclosing package,
// which callers must treat as a blocking error.
func (f *SourceFile) CorrectRelative(rel int, mod string) string {
	if rel == 0 {
		return mod
	}
	fileID := f.ID
	if f.IsPackage() {
		rel--
	}
	if rel > 0 {
		parts := strings.Split(fileID, ".")
		if rel > len(parts)-1 {
			return ""
		}
		fileID = strings.Join(parts[:len(parts)-rel], ".")
	}
	if mod == "" {
		return fileID
	}
	return fileID + "." + mod
}
