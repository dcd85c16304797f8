// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unshackle-dl/unshackle/internal/service"
)

// fakeDownloadTool writes a shell script that records its proxy
// environment into the file named by the -o argument.
func fakeDownloadTool(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fake needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fakedl")
	script := `#!/bin/sh
while [ "$1" != "-o" ]; do shift; done
printf '%s' "$HTTPS_PROXY" > "$2"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestCommandDownloaderExportsProxyEnv(t *testing.T) {
	d := &CommandDownloader{Binary: fakeDownloadTool(t), Proxy: "http://proxy.example:3128"}

	files, err := d.Download(context.Background(),
		[]service.Track{{ID: "v1", Type: "video", URL: "http://cdn.example/seg"}},
		nil, t.TempDir(), nil)
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.example:3128", string(data))
}

func TestCommandDownloaderDirectWithoutProxy(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "")
	d := &CommandDownloader{Binary: fakeDownloadTool(t)}

	files, err := d.Download(context.Background(),
		[]service.Track{{ID: "v1", Type: "video", URL: "http://cdn.example/seg"}},
		nil, t.TempDir(), nil)
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Empty(t, string(data))
}

func TestAdapterConfigCarriesProxy(t *testing.T) {
	r := NewRunner(Deps{
		GlobalConfig: map[string]any{"region": "us"},
		Proxy:        "http://proxy.example:3128",
	})
	cfg := r.adapterConfig()
	assert.Equal(t, "http://proxy.example:3128", cfg["proxy"])
	assert.Equal(t, "us", cfg["region"])

	direct := NewRunner(Deps{GlobalConfig: map[string]any{"region": "us"}})
	_, ok := direct.adapterConfig()["proxy"]
	assert.False(t, ok)
}
