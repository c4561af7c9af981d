package e2e_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexjbarnes/solara-sync/internal/app"
	"github.com/alexjbarnes/solara-sync/internal/auth"
	"github.com/alexjbarnes/solara-sync/internal/config"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// sheet is a fake spreadsheet endpoint. While down, submissions get a
// 503 and the reachability probe still succeeds, so deliveries fail
// while the monitor reports online. While unreachable, the probe fails.
type sheet struct {
	down        atomic.Bool
	unreachable atomic.Bool

	// failedProbes counts HEAD requests dropped while unreachable.
	failedProbes atomic.Int32

	mu       sync.Mutex
	received []submission
}

type submission struct {
	Ciclo     string `json:"ciclo"`
	Sector    string `json:"sector"`
	Ruta      string `json:"ruta"`
	Tecnico   string `json:"tecnico"`
	Nombre    string `json:"nombre"`
	Contenido string `json:"contenido"`
}

func (s *sheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.unreachable.Load() {
		if r.Method == http.MethodHead {
			s.failedProbes.Add(1)
		}

		// Hijack and drop the connection so the client sees a
		// transport error.
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
				return
			}
		}

		w.WriteHeader(http.StatusBadGateway)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		_, _ = w.Write([]byte(`{"status":"success","data":{"ciclos":["2026-A"],"sectoresPorCiclo":{"2026-A":["Norte"]},"rutasPorSector":{"Norte":["R12"]},"tecnicos":["Ana"]}}`))
	case http.MethodPost:
		if s.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		body, _ := io.ReadAll(r.Body)

		var sub submission
		if err := json.Unmarshal(body, &sub); err != nil {
			_, _ = w.Write([]byte(`{"status":"error","message":"bad payload"}`))
			return
		}

		s.mu.Lock()
		s.received = append(s.received, sub)
		s.mu.Unlock()

		_, _ = w.Write([]byte(`{"status":"success"}`))
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *sheet) submissions() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]submission(nil), s.received...)
}

// harness holds the full stack: a fake endpoint, a Controller over a
// real bbolt queue, and the MCP HTTP server in front of it.
type harness struct {
	URL        string
	Key        string
	Sheet      *sheet
	Controller *app.Controller
	Client     *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sh := &sheet{}
	endpoint := httptest.NewServer(sh)
	t.Cleanup(endpoint.Close)

	key := auth.GenerateKey()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		ScriptURL:       endpoint.URL + "/exec",
		ProbeURL:        endpoint.URL + "/exec",
		StatePath:       filepath.Join(t.TempDir(), "state.db"),
		DeliveryTimeout: 5 * time.Second,
		ProbeInterval:   20 * time.Millisecond,
		ProbeTimeout:    time.Second,
		ImageQuality:    85,
		EnableMCP:       true,
		MCPAPIKeys:      "e2e:" + string(hash),
	}

	ctrl, err := app.New(cfg, slog.New(slog.DiscardHandler), app.Options{Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	handler, err := ctrl.MCPHandler()
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return &harness{
		URL:        ts.URL,
		Key:        key,
		Sheet:      sh,
		Controller: ctrl,
		Client:     ts.Client(),
	}
}

// mcpSession connects an MCP client session using the given key.
func (h *harness) mcpSession(t *testing.T, key string) (*mcp.ClientSession, error) {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: key,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	if err != nil {
		return nil, err
	}

	t.Cleanup(func() { _ = session.Close() })

	return session, nil
}

func (h *harness) session(t *testing.T) *mcp.ClientSession {
	t.Helper()

	session, err := h.mcpSession(t, h.Key)
	require.NoError(t, err)

	return session
}

// callJSON calls a tool and decodes its JSON text content into dest.
func callJSON(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, dest any) {
	t.Helper()

	if args == nil {
		args = map[string]any{}
	}

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "tool %s returned an error result", name)
	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")
	require.NoError(t, json.Unmarshal([]byte(tc.Text), dest))
}

func writePhotos(t *testing.T, names ...string) []string {
	t.Helper()

	dir := t.TempDir()

	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("bytes of "+n), 0o600))
		paths = append(paths, p)
	}

	return paths
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}
