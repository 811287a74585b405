package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFlows() []Flow {
	return []Flow{
		{
			Method:          "GET",
			URL:             "https://target.test/api/users/1",
			RequestHeaders:  map[string][]string{"Authorization": {"Bearer abc"}},
			ResponseStatus:  200,
			ResponseHeaders: map[string][]string{"Content-Type": {"application/json"}},
			ResponseBody:    []byte(`{"id":1}`),
		},
		{
			Method:         "POST",
			URL:            "https://target.test/api/login",
			RequestBody:    []byte(`{"user":"a"}`),
			ResponseStatus: 200,
			ResponseBody:   []byte(`{"token":"xyz"}`),
		},
	}
}

func TestWriteThenOpenRoundTripsFlows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.gob")
	want := sampleFlows()

	require.NoError(t, Write(path, want))

	got, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOpenMissingFileReturnsInvalidCaptureError(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist.gob"))

	var invalid *InvalidCaptureError
	require.ErrorAs(t, err, &invalid)
}

func TestOpenMalformedFileReturnsInvalidCaptureError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.gob")
	require.NoError(t, os.WriteFile(path, []byte("not a gob stream"), 0o600))

	_, err := Open(path)

	var invalid *InvalidCaptureError
	require.ErrorAs(t, err, &invalid)
}

func TestOpenEmptyCaptureReturnsEmptyCaptureError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.gob")
	require.NoError(t, Write(path, []Flow{}))

	_, err := Open(path)

	var empty *EmptyCaptureError
	require.ErrorAs(t, err, &empty)
}
