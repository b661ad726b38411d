// Package patterns holds the per-language function definition rules used by
// the extraction stage.
package patterns

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// ErrUnknownExtension is returned for overrides naming an extension outside
// the supported language set.
var ErrUnknownExtension = errors.New("unknown extension")

// matchTimeout bounds a single rule evaluation on one line.
const matchTimeout = 250 * time.Millisecond

// Language is one of the closed set of supported languages.
type Language int

const (
	Python Language = iota + 1
	Ruby
	Go
	Java
	JavaScript
	TypeScript
	Kotlin
	C
	CPP
	CSharp
	PHP
	Rust
	Swift
)

var languageNames = map[Language]string{
	Python:     "python",
	Ruby:       "ruby",
	Go:         "go",
	Java:       "java",
	JavaScript: "javascript",
	TypeScript: "typescript",
	Kotlin:     "kotlin",
	C:          "c",
	CPP:        "cpp",
	CSharp:     "csharp",
	PHP:        "php",
	Rust:       "rust",
	Swift:      "swift",
}

func (l Language) String() string {
	if n, ok := languageNames[l]; ok {
		return n
	}
	return "unknown"
}

// extensions maps every supported extension to its language.
var extensions = map[string]Language{
	".py":    Python,
	".rb":    Ruby,
	".go":    Go,
	".java":  Java,
	".js":    JavaScript,
	".jsx":   JavaScript,
	".mjs":   JavaScript,
	".ts":    TypeScript,
	".tsx":   TypeScript,
	".kt":    Kotlin,
	".c":     C,
	".h":     C,
	".cpp":   CPP,
	".cc":    CPP,
	".hpp":   CPP,
	".cs":    CSharp,
	".php":   PHP,
	".rs":    Rust,
	".swift": Swift,
}

// RuleSpec is the serialisable form of a rule, as found in configuration.
type RuleSpec struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Capture int    `yaml:"capture" json:"capture"`
}

// Rule is a compiled pattern and the capture group holding the function name.
type Rule struct {
	re      *regexp2.Regexp
	Capture int
}

func NewRule(spec RuleSpec) (Rule, error) {
	if spec.Capture <= 0 {
		return Rule{}, fmt.Errorf("pattern %q: capture index must be positive", spec.Pattern)
	}
	re, err := regexp2.Compile(spec.Pattern, regexp2.ECMAScript)
	if err != nil {
		return Rule{}, fmt.Errorf("compile pattern %q: %w", spec.Pattern, err)
	}
	re.MatchTimeout = matchTimeout
	return Rule{re: re, Capture: spec.Capture}, nil
}

func mustRule(pattern string, capture int) Rule {
	r, err := NewRule(RuleSpec{Pattern: pattern, Capture: capture})
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rule) Pattern() string { return r.re.String() }

// Match runs the rule against a single line. A match whose capture group is
// missing or empty is reported as an error so the caller can log and drop it.
func (r Rule) Match(line string) (string, bool, error) {
	m, err := r.re.FindStringMatch(line)
	if err != nil {
		return "", false, err
	}
	if m == nil {
		return "", false, nil
	}
	g := m.GroupByNumber(r.Capture)
	if g == nil || len(g.Captures) == 0 || g.String() == "" {
		return "", false, fmt.Errorf("pattern %q matched without capture group %d", r.Pattern(), r.Capture)
	}
	return g.String(), true, nil
}

func defaultRules() map[Language][]Rule {
	ident := `([a-zA-Z_][a-zA-Z0-9_]*)`
	cKeywords := `(?!(?:if|for|while|switch|return|else|sizeof)\b)`
	stmtKeywords := `(?!(?:return|new|throw|else|await|yield)\b)`
	return map[Language][]Rule{
		Python: {mustRule(`^\s*(?:async\s+)?def\s+`+ident, 1)},
		Ruby:   {mustRule(`^\s*def\s+(?:self\.)?([a-zA-Z_][a-zA-Z0-9_!?]*)`, 1)},
		Go:     {mustRule(`^\s*func\s+(?:\([^)]*\)\s*)?`+ident+`\s*[\[(]`, 1)},
		Java: {mustRule(
			`^\s*`+stmtKeywords+`(?:(?:public|private|protected|static|final|abstract|synchronized)\s+)*`+
				`(?:[\w<>\[\],]+\s+)+(?!if\b|for\b|while\b|switch\b|catch\b|return\b|new\b)`+ident+`\s*\(`, 1)},
		JavaScript: {mustRule(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*`+ident, 1)},
		TypeScript: {mustRule(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*`+ident, 1)},
		Kotlin:     {mustRule(`^\s*(?:(?:public|private|protected|internal|override|suspend|inline)\s+)*fun\s+(?:<[^>]*>\s*)?`+ident, 1)},
		C:          {mustRule(`^\s*(?:[a-zA-Z_][\w\*]*[\s\*]+)+`+cKeywords+ident+`\s*\((?!.*;\s*$)`, 1)},
		CPP:        {mustRule(`^\s*(?:[a-zA-Z_][\w:<>\*&]*[\s\*&]+)+(?:[a-zA-Z_]\w*::)?~?`+cKeywords+ident+`\s*\((?!.*;\s*$)`, 1)},
		CSharp: {mustRule(
			`^\s*`+stmtKeywords+`(?:(?:public|private|protected|internal|static|async|override|virtual|abstract|sealed)\s+)*`+
				`[\w<>\[\],]+\s+(?!if\b|for\b|while\b|switch\b|catch\b|return\b|new\b)`+ident+`\s*\(`, 1)},
		PHP:   {mustRule(`^\s*(?:(?:public|private|protected|static|abstract|final)\s+)*function\s+&?`+ident+`\s*\(`, 1)},
		Rust:  {mustRule(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:const\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+`+ident, 1)},
		Swift: {mustRule(`^\s*(?:(?:public|private|fileprivate|internal|open|static|class|override|mutating)\s+)*func\s+`+ident, 1)},
	}
}

// Registry maps extensions to their ordered rules. A Registry is immutable
// once built; overrides produce a new one.
type Registry struct {
	rules map[Language][]Rule
	// per-extension overrides take precedence over the language rules
	byExt map[string][]Rule
}

// Default returns the registry with built-in rules only.
func Default() *Registry {
	return &Registry{rules: defaultRules(), byExt: map[string][]Rule{}}
}

// WithOverrides returns a registry whose rules for each named extension are
// entirely replaced by the given specs.
func (r *Registry) WithOverrides(overrides map[string][]RuleSpec) (*Registry, error) {
	out := &Registry{rules: r.rules, byExt: make(map[string][]Rule, len(r.byExt)+len(overrides))}
	for ext, rules := range r.byExt {
		out.byExt[ext] = rules
	}
	for rawExt, specs := range overrides {
		ext := normalizeExt(rawExt)
		if _, ok := extensions[ext]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownExtension, rawExt)
		}
		compiled := make([]Rule, 0, len(specs))
		for _, spec := range specs {
			rule, err := NewRule(spec)
			if err != nil {
				return nil, fmt.Errorf("extension %s: %w", ext, err)
			}
			compiled = append(compiled, rule)
		}
		out.byExt[ext] = compiled
	}
	return out, nil
}

// Lookup returns the rules for ext (with or without the leading dot).
func (r *Registry) Lookup(ext string) ([]Rule, bool) {
	ext = normalizeExt(ext)
	if rules, ok := r.byExt[ext]; ok {
		return rules, true
	}
	lang, ok := extensions[ext]
	if !ok {
		return nil, false
	}
	rules, ok := r.rules[lang]
	return rules, ok
}

// Supports reports whether ext belongs to a known language.
func (r *Registry) Supports(ext string) bool {
	_, ok := r.Lookup(ext)
	return ok
}

// LanguageOf returns the language for ext.
func LanguageOf(ext string) (Language, bool) {
	l, ok := extensions[normalizeExt(ext)]
	return l, ok
}

// Extensions lists all supported extensions in sorted order.
func Extensions() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// Overridden lists extensions whose rules were replaced.
func (r *Registry) Overridden() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
