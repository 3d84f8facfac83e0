package gitignore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchBasicPatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		isDir   bool
		ignored bool
	}{
		{"exact name", "foo.txt", "foo.txt", false, true},
		{"exact name no match", "foo.txt", "bar.txt", false, false},
		{"name matches at any depth", "foo.txt", "a/b/foo.txt", false, true},
		{"extension glob", "*.log", "error.log", false, true},
		{"extension glob nested", "*.log", "logs/error.log", false, true},
		{"extension glob miss", "*.log", "error.txt", false, false},
		{"prefix glob", "test*", "test_util.go", false, true},
		{"single char wildcard", "file?.txt", "file1.txt", false, true},
		{"single char wildcard too long", "file?.txt", "file12.txt", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.Add(tt.pattern)
			assert.Equal(t, tt.ignored, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatchDoubleStar(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		isDir   bool
		ignored bool
	}{
		{"leading doublestar at root", "**/node_modules", "node_modules", true, true},
		{"leading doublestar nested", "**/node_modules", "packages/a/node_modules", true, true},
		{"trailing doublestar inside", "logs/**", "logs/2024/error.log", false, true},
		{"trailing doublestar outside", "logs/**", "src/logs/error.log", false, false},
		{"extension anywhere", "**/*.log", "a/b/c/error.log", false, true},
		{"middle doublestar zero dirs", "a/**/b", "a/b", false, true},
		{"middle doublestar many dirs", "a/**/b", "a/x/y/b", false, true},
		{"middle doublestar wrong root", "a/**/b", "c/x/b", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.Add(tt.pattern)
			assert.Equal(t, tt.ignored, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatchAnchored(t *testing.T) {
	m := New()
	m.Add("/build")
	m.Add("/temp/")

	assert.True(t, m.Match("build", true))
	assert.False(t, m.Match("src/build", true))
	assert.True(t, m.Match("temp", true))
	assert.True(t, m.Match("temp/root.go", false))
	assert.False(t, m.Match("src/temp", true))
	assert.False(t, m.Match("src/temp/nested.go", false))
}

func TestMatchPathPatternIsAnchored(t *testing.T) {
	// "src/temp/" means "/src/temp/", per the gitignore spec.
	m := New()
	m.Add("src/temp/")

	assert.True(t, m.Match("src/temp", true))
	assert.True(t, m.Match("src/temp/cache.go", false))
	assert.False(t, m.Match("other/temp/file.go", false))
}

func TestMatchDirectoryOnly(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		isDir   bool
		ignored bool
	}{
		{"dir pattern matches dir", "build/", "build", true, true},
		{"dir pattern skips file", "build/", "build", false, false},
		{"dir pattern matches nested dir", "logs/", "src/logs", true, true},
		{"dir pattern covers contents", "logs/", "src/logs/app.log", false, true},
		{"bare pattern matches both", "build", "build", false, true},
		{"glob dir pattern", "temp*/", "temp1", true, true},
		{"glob dir pattern skips file", "temp*/", "temp1", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.Add(tt.pattern)
			assert.Equal(t, tt.ignored, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestMatchNegation(t *testing.T) {
	m := New()
	m.Add("*.log")
	m.Add("!important.log")
	m.Add("really_old.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("important.log", false))
	assert.True(t, m.Match("really_old.log", false))
}

func TestMatchNegationOrder(t *testing.T) {
	// Last match wins: everything ignored, then Go and markdown re-included.
	m := New()
	m.Add("*")
	m.Add("!*.go")
	m.Add("!*.md")

	assert.False(t, m.Match("main.go", false))
	assert.False(t, m.Match("README.md", false))
	assert.True(t, m.Match("binary.bin", false))
}

func TestMatchScopedPatterns(t *testing.T) {
	m := New()
	m.AddUnder("src", "*.generated.go")
	m.AddUnder("src", "cache/")

	assert.True(t, m.Match("src/code.generated.go", false))
	assert.True(t, m.Match("src/cache", true))
	assert.False(t, m.Match("code.generated.go", false))
	assert.False(t, m.Match("pkg/code.generated.go", false))
}

func TestAddSkipsCommentsAndBlanks(t *testing.T) {
	m := New()
	m.Add("")
	m.Add("   ")
	m.Add("# comment")
	m.Add("*.log")

	assert.Len(t, m.rules, 1)
}

func TestAddEscapes(t *testing.T) {
	m := New()
	m.Add(`\#important`)
	m.Add(`\!literal`)
	m.Add(`file\ `)

	assert.True(t, m.Match("#important", false))
	assert.True(t, m.Match("!literal", false))
	assert.True(t, m.Match("file ", false))
	assert.False(t, m.Match("file", false))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	content := `# deps
node_modules/
*.log
!important.log

/dist/
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m := New()
	require.NoError(t, m.Load(path, ""))

	assert.Len(t, m.rules, 4)
	assert.True(t, m.Match("a/node_modules", true))
	assert.True(t, m.Match("error.log", false))
	assert.False(t, m.Match("important.log", false))
	assert.True(t, m.Match("dist", true))
	assert.False(t, m.Match("src/dist", true))
}

func TestLoadScoped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "web"), 0o755))
	path := filepath.Join(dir, "web", ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("*.map\nbuild/\n"), 0o644))

	m := New()
	require.NoError(t, m.Load(path, "web"))

	assert.True(t, m.Match("web/app.js.map", false))
	assert.True(t, m.Match("web/build", true))
	assert.False(t, m.Match("app.js.map", false))
}

func TestLoadMissingFile(t *testing.T) {
	m := New()
	assert.Error(t, m.Load(filepath.Join(t.TempDir(), ".gitignore"), ""))
}

func TestMatchConcurrent(t *testing.T) {
	m := New()
	m.Add("*.log")
	m.Add("temp/")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = m.Match("error.log", false)
				_ = m.Match("temp", true)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m.Add("*.tmp")
			}
		}()
	}
	wg.Wait()
}

func TestMatchTypicalProjectIgnores(t *testing.T) {
	m := New()
	for _, p := range []string{
		"node_modules/", "vendor/", "dist/", "*.min.js",
		"*.log", "!important.log", ".idea/", "coverage/",
	} {
		m.Add(p)
	}

	assert.True(t, m.Match("node_modules/react/index.js", false))
	assert.True(t, m.Match("packages/app/node_modules", true))
	assert.True(t, m.Match("assets/app.min.js", false))
	assert.False(t, m.Match("important.log", false))
	assert.False(t, m.Match("src/main.go", false))
	assert.False(t, m.Match("internal/dist_utils.go", false))
}
