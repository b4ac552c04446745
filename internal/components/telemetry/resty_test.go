package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mutex    sync.Mutex
	messages map[string]string
}

func (o *memoryOutput) Write(id string, contents string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.messages[id] = contents
}

func TestInstrumentRestyOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("x-portal", "ok")
		w.Write([]byte("hello"))
	}))
	t.Cleanup(server.Close)

	output := &memoryOutput{messages: map[string]string{}}
	client := resty.New().SetBaseURL(server.URL)
	InstrumentResty(client, SlogAPI{}, output)

	res, err := client.R().SetFormData(map[string]string{"a": "b"}).Post("/login")
	require.NoError(t, err)
	require.True(t, res.IsSuccess())

	res, err = client.R().Get("/missing")
	require.NoError(t, err)
	require.False(t, res.IsSuccess())

	require.Len(t, output.messages, 2)
	require.Contains(t, output.messages["1"], "POST "+server.URL+"/login")
	require.Contains(t, output.messages["1"], "a=b")
	require.Contains(t, output.messages["1"], "X-Portal: ok")
	require.Contains(t, output.messages["1"], "hello")
	require.Contains(t, output.messages["2"], "GET "+server.URL+"/missing")
	require.Contains(t, output.messages["2"], "404")
	require.Contains(t, output.messages["2"], "<NO BODY AVAILABLE>")
}

func TestFormatRequestBody(t *testing.T) {
	get, err := http.NewRequest(http.MethodGet, "http://localhost/data", nil)
	require.NoError(t, err)
	require.Equal(t, "<NO BODY AVAILABLE>", formatRequestBody(get))

	get.GetBody = func() (io.ReadCloser, error) {
		return nil, nil
	}
	require.Equal(t, "<NO BODY AVAILABLE>", formatRequestBody(get))

	get.GetBody = func() (io.ReadCloser, error) {
		return http.NoBody, nil
	}
	require.Equal(t, "<NO BODY AVAILABLE>", formatRequestBody(get))

	post, err := http.NewRequest(http.MethodPost, "http://localhost/login", strings.NewReader("a=b"))
	require.NoError(t, err)
	require.Equal(t, "a=b", formatRequestBody(post))

	require.Equal(t, "<NO BODY AVAILABLE>", formatRequestBody(nil))
}

func TestInstrumentRestyNonSuccessGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client := resty.New().SetBaseURL(server.URL)
	InstrumentResty(client, SlogAPI{}, nil)

	res, err := client.R().SetQueryParam("take", "1000").Get("/Usager/Collecte/GetCollecte")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode())
}

func TestInstrumentRestyWithoutOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(server.Close)

	client := resty.New().SetBaseURL(server.URL)
	InstrumentResty(client, SlogAPI{}, nil)

	_, err := client.R().Get("/")
	require.NoError(t, err)
}

func TestFormatHeaders(t *testing.T) {
	require.Equal(t, "", formatHeaders(http.Header{}))
	require.Equal(t, "Accept: text/html", formatHeaders(http.Header{"Accept": {"text/html"}}))
}

func TestDirOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "messages")
	require.NoError(t, os.MkdirAll(dir, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale"), []byte("old"), 0600))

	output, err := NewDirOutput(dir)
	require.NoError(t, err)
	output.Write("1", "contents")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	contents, err := os.ReadFile(filepath.Join(dir, "1"))
	require.NoError(t, err)
	require.Equal(t, "contents", string(contents))
}
