package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/bundlebridge/internal/compiler"
	"github.com/fluxbase-eu/bundlebridge/internal/jshost"
	"github.com/fluxbase-eu/bundlebridge/internal/staticfiles"
	"github.com/fluxbase-eu/bundlebridge/internal/webpack"
)

type stack struct {
	root     string
	project  string
	url      string
	compiler *webpack.Compiler
}

// newStack runs a host with the real compiler service and points a
// webpack.Compiler at it over HTTP
func newStack(t *testing.T, files map[string]string) *stack {
	t.Helper()
	root := t.TempDir()
	project := t.TempDir()
	for name, content := range files {
		path := filepath.Join(project, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	cfg := testConfig()
	cfg.Webpack.BundleRoot = root
	cfg.Webpack.BundleURL = "/static/"

	svc := compiler.NewService()
	s := NewServer(cfg, WithService(svc))
	srv := httptest.NewServer(adaptor.FiberApp(s.App()))
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
	})

	settings := webpack.Settings{
		BundleRoot: root,
		BundleURL:  "/static/",
		BundleDir:  "webpack",
	}
	client := jshost.NewClient(srv.URL)
	return &stack{
		root:     root,
		project:  project,
		url:      srv.URL,
		compiler: webpack.NewCompiler(settings, staticfiles.NewFileSystemFinder(project), client),
	}
}

func TestEndToEnd_Bundle(t *testing.T) {
	st := newStack(t, map[string]string{
		"app/webpack.config.yaml": "entry: ./entry.js\n",
		"app/entry.js":            `console.log("END_TO_END");`,
	})

	bundle, err := st.compiler.Bundle(context.Background(), "app/webpack.config.yaml")
	require.NoError(t, err)

	paths := bundle.Paths()
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(st.root, "webpack"), filepath.Dir(paths[0]))
	assert.Regexp(t, regexp.MustCompile(`^bundle-[A-Za-z0-9]+\.js$`), filepath.Base(paths[0]))

	urls := bundle.URLs()
	require.Len(t, urls, 1)
	assert.Equal(t, "/static/webpack/"+filepath.Base(paths[0]), urls[0])
	assert.Equal(t, `<script src="`+urls[0]+`"></script>`, bundle.String())

	resp, err := http.Get(st.url + urls[0])
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "END_TO_END")
}

func TestEndToEnd_Library(t *testing.T) {
	st := newStack(t, map[string]string{
		"webpack.config.yaml": "entry: ./lib.js\noutput:\n  library: LIBRARY_TEST\n",
		"lib.js":              `export const answer = 42;`,
	})

	bundle, err := st.compiler.Bundle(context.Background(), filepath.Join(st.project, "webpack.config.yaml"))
	require.NoError(t, err)

	library, ok := bundle.Library()
	require.True(t, ok)
	assert.Equal(t, "LIBRARY_TEST", library)

	data, err := os.ReadFile(bundle.Paths()[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "LIBRARY_TEST")
}

func TestEndToEnd_CompileError(t *testing.T) {
	st := newStack(t, map[string]string{
		"webpack.config.yaml": "entry: ./broken.js\n",
		"broken.js":           `const = ;`,
	})

	_, err := st.compiler.Bundle(context.Background(), filepath.Join(st.project, "webpack.config.yaml"))
	require.Error(t, err)
	assert.True(t, webpack.IsCompilerError(err))
	assert.Contains(t, err.Error(), "broken.js:1:")
}

func TestEndToEnd_UnknownService(t *testing.T) {
	st := newStack(t, map[string]string{
		"webpack.config.yaml": "entry: ./entry.js\n",
		"entry.js":            `console.log(1);`,
	})

	settings := webpack.Settings{BundleRoot: st.root, BundleURL: "/static/", ServiceName: "rollup"}
	c := webpack.NewCompiler(settings, nil, jshost.NewClient(st.url))

	_, err := c.Bundle(context.Background(), filepath.Join(st.project, "webpack.config.yaml"))
	require.Error(t, err)
	assert.True(t, webpack.IsTransportError(err))
	assert.Contains(t, err.Error(), `unknown service "rollup"`)
}

func TestEndToEnd_WatchedBuildShowsInStatus(t *testing.T) {
	st := newStack(t, map[string]string{
		"webpack.config.yaml": "entry: ./entry.js\n",
		"entry.js":            `console.log("WATCHED");`,
	})
	configPath := filepath.Join(st.project, "webpack.config.yaml")

	_, err := st.compiler.Bundle(context.Background(), configPath, webpack.WatchSource(true))
	require.NoError(t, err)

	status, err := jshost.NewClient(st.url).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.ActiveWatchers)
	assert.Equal(t, []string{"webpack:" + configPath}, status.Watched)
}
