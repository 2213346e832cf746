package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapScript(t *testing.T) {
	assert.Equal(t, "package main\n\nfunc Run() {}", WrapScript("func Run() {}"))
	assert.Equal(t, "package main\n\nfunc Run() {}", WrapScript("package main\n\nfunc Run() {}"))

	// Metadata header comments do not count as the first significant line.
	withHeader := "//meta:\n// title: x\n\nfunc Run() {}"
	assert.True(t, strings.HasPrefix(WrapScript(withHeader), "package main\n\n"))
}

func TestExtractImports(t *testing.T) {
	source := `
import (
	"fmt"
	"strings"

	"actionkernel/sdk"
	"./helpers"
)

func Run(b *sdk.Bundle) error { return nil }
`
	imports, err := ExtractImports(source)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fmt", "strings", "actionkernel/sdk", "./helpers"}, imports)
}

func TestExtractImports_ParseError(t *testing.T) {
	_, err := ExtractImports("import \"unterminated")
	require.Error(t, err)
}

func TestLocalName(t *testing.T) {
	assert.Equal(t, "helpers", LocalName("./helpers"))
	assert.Equal(t, "lib/util", LocalName("./lib/util"))
	assert.Equal(t, "helpers", LocalName("helpers"))
}

func TestStripLocalImports(t *testing.T) {
	grouped := `
import (
	"strings"

	"./helpers"
)

func Run() string { return strings.ToUpper(Greeting()) }
`
	out := stripLocalImports(grouped, map[string]bool{"helpers": true})
	assert.NotContains(t, out, "./helpers")
	assert.Contains(t, out, `"strings"`)

	// A single-spec declaration loses the import keyword too.
	single := "import \"./helpers\"\n\nfunc Run() {}"
	out = stripLocalImports(single, map[string]bool{"helpers": true})
	assert.NotContains(t, out, "import")

	// Blanking keeps every other byte where it was.
	assert.Equal(t, len(WrapScript(single)), len(out))

	// No locals, no rewrite.
	assert.Equal(t, grouped, stripLocalImports(grouped, nil))
}

func TestRestrictedSymbols(t *testing.T) {
	syms := RestrictedSymbols(map[string]bool{"strings": true})

	assert.Contains(t, syms, "strings/strings")
	for key := range syms {
		assert.True(t, strings.HasPrefix(key, "strings/"), "unexpected symbol table entry %q", key)
	}
}

func TestDefaultAllowedPackages_NoIOOrNetwork(t *testing.T) {
	allowed := DefaultAllowedPackages()
	for _, pkg := range []string{"os", "os/exec", "net", "net/http", "io", "syscall", "unsafe", "reflect"} {
		assert.False(t, allowed[pkg], "%s must not be allowed", pkg)
	}
}

func TestConfig_IsAllowed_SDKAlwaysPermitted(t *testing.T) {
	cfg := Config{AllowedPackages: map[string]bool{}}
	assert.True(t, cfg.IsAllowed(SDKImportPath))
	assert.False(t, cfg.IsAllowed("fmt"))
}
