package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoot() *cobra.Command {
	opts := &GlobalOptions{}
	root := &cobra.Command{Use: "fn-index", SilenceUsage: true, SilenceErrors: true}
	opts.Bind(root)
	root.AddCommand(
		NewIndexCommand(opts),
		NewSearchCommand(opts),
		NewClearCommand(opts),
		NewMCPClientCommand(opts),
	)
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRoot()
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestIndexAndSearchCommands(t *testing.T) {
	ws := t.TempDir()
	data := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.py"), []byte("def parse_args():\n"), 0o644))

	out, err := execute(t, "index", "-w", ws, "--data-dir", data)
	require.NoError(t, err)
	assert.Equal(t, "indexed 1 functions in 1 files\n", out)

	// a second run starts from the persisted store
	out, err = execute(t, "search", "pa", "-w", ws, "--data-dir", data)
	require.NoError(t, err)
	assert.Equal(t, "parse_args\ta.py:1\n", out)
}

func TestClearCommand(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.rb"), []byte("def greet\nend\n"), 0o644))

	out, err := execute(t, "clear", "-w", ws, "--data-dir", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "index cleared, reindexed 1 functions in 1 files\n", out)
}

func TestMCPClientListToolsInProcess(t *testing.T) {
	out, err := execute(t, "mcp-client", "list-tools", "-t", "inproc", "-w", t.TempDir(), "--data-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "Available MCP tools (7)")
	assert.Contains(t, out, "search_functions")
	assert.Contains(t, out, "- query (required)")
}

func TestMCPClientUnknownTransport(t *testing.T) {
	_, err := execute(t, "mcp-client", "list-tools", "-t", "smoke-signal", "-w", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport")
}

func TestParseToolArgs(t *testing.T) {
	args, err := parseToolArgs([]string{"query=foo", "limit=5", "verbose=true", "expr=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "foo", "limit": 5, "verbose": true, "expr": "a=b"}, args)

	_, err = parseToolArgs([]string{"novalue"})
	assert.Error(t, err)
}
