package module

import (
	"fmt"
	"strings"
	"unicode"
)

// PlaceholderSource seeds every module created by a lookup.
const PlaceholderSource = "Hello world!"

// Module is one editable block of user-authored source.
type Module struct {
	ID     int
	Source string
	// Open reports whether an editor for this module is currently displayed.
	// The registry stores it and nothing more.
	Open bool
}

func newModule(id int) *Module {
	return &Module{ID: id, Source: PlaceholderSource}
}

// Name returns the remote name for the module: the name declared in its
// source when present, module_<id> otherwise.
func (m *Module) Name() string {
	if m == nil {
		return ""
	}
	if name := DeclaredName(m.Source); name != "" {
		return name
	}
	return fmt.Sprintf("module_%d", m.ID)
}

// DeclaredName returns the identifier of the first `module <name>` line in
// source, skipping blank lines and // comments. It returns "" when the first
// meaningful line is not a module declaration.
func DeclaredName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		rest, ok := strings.CutPrefix(line, "module")
		if !ok || rest == "" || !unicode.IsSpace(rune(rest[0])) {
			return ""
		}
		rest = strings.TrimSpace(rest)
		end := strings.IndexFunc(rest, func(r rune) bool {
			return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
		})
		if end < 0 {
			end = len(rest)
		}
		return rest[:end]
	}
	return ""
}
