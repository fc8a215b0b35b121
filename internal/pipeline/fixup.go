package pipeline

import "strings"

// FixCrossRefs rewires a deserialized tree's raw identity references
// into live node references using the shared module table. Must run
// after every member of the tree's import cycle has been deserialized
// and registered, so sibling lookups always succeed or are genuinely
// missing.
func FixCrossRefs(file *SourceFile, modules map[string]*SourceFile) {
	for _, sym := range file.Names {
		switch sym.Kind {
		case SymModuleRef:
			if target, ok := modules[sym.ModuleID]; ok {
				sym.Module = target
			}
		case SymVar, SymFunc, SymClass:
			// Value symbols carry no cross-module references.
		}
	}
}

// Linearize computes class hierarchy linearizations for every class in
// the tree. Depends on cross-references being fixed first, since base
// lookups may traverse module-ref symbols.
func Linearize(file *SourceFile, modules map[string]*SourceFile) {
	for _, sym := range file.Names {
		if sym.Kind != SymClass {
			continue
		}
		seen := map[string]bool{}
		sym.Linearization = linearizeClass(file, sym, modules, seen)
	}
}

// linearizeClass produces the depth-first linearization of a class and
// its bases, deduplicated in first-visit order.
func linearizeClass(file *SourceFile, class *Symbol, modules map[string]*SourceFile, seen map[string]bool) []string {
	if seen[class.FullName] {
		return nil
	}
	seen[class.FullName] = true
	order := []string{class.FullName}
	for _, base := range class.Bases {
		baseSym := resolveName(file, base, modules)
		if baseSym == nil || baseSym.Kind != SymClass {
			continue
		}
		baseFile := fileOf(baseSym, file, modules)
		order = append(order, linearizeClass(baseFile, baseSym, modules, seen)...)
	}
	return order
}

// resolveName looks up a possibly-dotted name: first in the module's own
// table, then across module boundaries via the shared table.
func resolveName(file *SourceFile, name string, modules map[string]*SourceFile) *Symbol {
	if sym, ok := file.Names[name]; ok {
		if sym.Kind == SymModuleRef {
			return nil
		}
		return sym
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		modID, attr := name[:i], name[i+1:]
		target := modules[modID]
		if target == nil {
			// The prefix may be a local alias for a module.
			if ref, ok := file.Names[modID]; ok && ref.Kind == SymModuleRef {
				target = modules[ref.ModuleID]
			}
		}
		if target != nil {
			return target.Names[attr]
		}
	}
	return nil
}

// fileOf returns the module tree that owns a symbol, falling back to the
// current file when the owner is not in the table.
func fileOf(sym *Symbol, current *SourceFile, modules map[string]*SourceFile) *SourceFile {
	if i := strings.LastIndex(sym.FullName, "."); i > 0 {
		if owner, ok := modules[sym.FullName[:i]]; ok {
			return owner
		}
	}
	return current
}
