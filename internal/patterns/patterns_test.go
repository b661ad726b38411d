package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func firstMatch(t *testing.T, reg *Registry, ext, line string) (string, bool) {
	t.Helper()
	rules, ok := reg.Lookup(ext)
	require.True(t, ok, "no rules for %s", ext)
	for _, r := range rules {
		name, ok, err := r.Match(line)
		require.NoError(t, err)
		if ok {
			return name, true
		}
	}
	return "", false
}

func TestDefaultRules(t *testing.T) {
	reg := Default()
	cases := []struct {
		ext  string
		line string
		want string
	}{
		{".py", "def foo():", "foo"},
		{".py", "    async def fetch_all(self, ids):", "fetch_all"},
		{".go", "func Bar() {", "Bar"},
		{".go", "func (s *Server) Start(ctx context.Context) error {", "Start"},
		{".go", "func Map[T any](in []T) []T {", "Map"},
		{".rb", "  def self.call!(x)", "call!"},
		{".java", "    public static void main(String[] args) {", "main"},
		{".js", "export async function loadUser(id) {", "loadUser"},
		{".ts", "function parse(input: string): Node {", "parse"},
		{".kt", "suspend fun refresh(): Unit {", "refresh"},
		{".c", "int main(int argc, char **argv) {", "main"},
		{".php", "    public function handle($request)", "handle"},
		{".rs", "pub fn parse(input: &str) -> Result<()> {", "parse"},
		{".swift", "    override func viewDidLoad() {", "viewDidLoad"},
	}
	for _, tc := range cases {
		t.Run(tc.ext+"/"+tc.want, func(t *testing.T) {
			name, ok := firstMatch(t, reg, tc.ext, tc.line)
			require.True(t, ok)
			assert.Equal(t, tc.want, name)
		})
	}
}

func TestDefaultRulesSkipStatements(t *testing.T) {
	reg := Default()
	for _, tc := range []struct{ ext, line string }{
		{".java", "        return compute(x);"},
		{".c", "    if (x > 0) {"},
		{".c", "    foo(bar);"},
		{".py", "result = define(x)"},
		{".go", "	fn := func() {"},
	} {
		_, ok := firstMatch(t, reg, tc.ext, tc.line)
		assert.False(t, ok, "%s: %q", tc.ext, tc.line)
	}
}

func TestLookupNormalizesExtension(t *testing.T) {
	reg := Default()
	_, ok := reg.Lookup("PY")
	assert.True(t, ok)
	_, ok = reg.Lookup(".go")
	assert.True(t, ok)
	assert.False(t, reg.Supports(".txt"))

	lang, ok := LanguageOf(".tsx")
	require.True(t, ok)
	assert.Equal(t, TypeScript, lang)
	assert.Equal(t, "typescript", lang.String())
}

func TestWithOverridesReplacesRules(t *testing.T) {
	reg, err := Default().WithOverrides(map[string][]RuleSpec{
		"py": {{Pattern: `^\s*task\s+([a-z_]+)`, Capture: 1}},
	})
	require.NoError(t, err)

	rules, ok := reg.Lookup(".py")
	require.True(t, ok)
	assert.Len(t, rules, 1)
	assert.Equal(t, []string{".py"}, reg.Overridden())

	_, ok = firstMatch(t, reg, ".py", "def foo():")
	assert.False(t, ok)
	name, ok := firstMatch(t, reg, ".py", "task build_all")
	require.True(t, ok)
	assert.Equal(t, "build_all", name)

	// other languages keep their defaults
	name, ok = firstMatch(t, reg, ".go", "func Bar() {")
	require.True(t, ok)
	assert.Equal(t, "Bar", name)
}

func TestWithOverridesRejectsUnknownExtension(t *testing.T) {
	_, err := Default().WithOverrides(map[string][]RuleSpec{
		".cobol": {{Pattern: `^PROC (\w+)`, Capture: 1}},
	})
	require.ErrorIs(t, err, ErrUnknownExtension)
}

func TestWithOverridesRejectsInvalidRule(t *testing.T) {
	_, err := Default().WithOverrides(map[string][]RuleSpec{
		".go": {{Pattern: `^func (`, Capture: 1}},
	})
	require.Error(t, err)

	_, err = Default().WithOverrides(map[string][]RuleSpec{
		".go": {{Pattern: `^func (\w+)`, Capture: 0}},
	})
	require.Error(t, err)
}

func TestMatchWithoutCaptureIsMalformed(t *testing.T) {
	rule, err := NewRule(RuleSpec{Pattern: `^def\s+(\w+)|^fn\s+(\w+)`, Capture: 2})
	require.NoError(t, err)

	_, ok, err := rule.Match("def foo")
	assert.False(t, ok)
	assert.Error(t, err)

	name, ok, err := rule.Match("fn bar")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bar", name)
}
