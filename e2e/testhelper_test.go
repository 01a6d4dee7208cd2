package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/qasim313/Unbrandit/internal/auth"
	"github.com/qasim313/Unbrandit/internal/client"
	"github.com/qasim313/Unbrandit/internal/config"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/repository"
	"github.com/qasim313/Unbrandit/internal/server"
	"github.com/qasim313/Unbrandit/internal/service"
)

const (
	testJWTSecret     = "test-secret-for-e2e"
	testInternalToken = "worker-secret"
	blobBase          = "https://blobs.test/bucket"
)

// recordingQueue stands in for the asynq client and keeps every task.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	fail  bool
}

func (q *recordingQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return nil, errors.New("dial tcp 127.0.0.1:6379: connection refused")
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (q *recordingQueue) ofType(typ string) []*asynq.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*asynq.Task
	for _, task := range q.tasks {
		if task.Type() == typ {
			out = append(out, task)
		}
	}
	return out
}

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	store   *repository.MemoryStore
	storage *client.MemoryStorage
	queue   *recordingQueue
}

// setupApp assembles the same app main does, backed by in-memory records,
// in-memory blobs and a recording queue.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	cfg := &config.Config{
		Server:    config.ServerConfig{Env: "development", BodyLimitMB: 10},
		JWT:       config.JWTConfig{Secret: testJWTSecret},
		Storage:   config.StorageConfig{ProxySecret: "proxy-secret"},
		Toolchain: config.ToolchainConfig{Timeout: 60},
		Internal:  config.InternalConfig{Token: testInternalToken},
		Reconcile: config.ReconcileConfig{
			Interval:         time.Minute,
			QueuedStaleAfter: 10 * time.Minute,
			QueuedMaxAge:     2 * time.Hour,
			RunningCeiling:   time.Hour,
		},
	}

	ta := &testApp{
		store:   repository.NewMemoryStore(),
		storage: client.NewMemoryStorage(blobBase),
		queue:   &recordingQueue{},
	}
	services := server.NewServices(cfg, ta.store, ta.storage, ta.queue)
	ta.app = server.NewApp(cfg, services, server.Options{
		Authenticator: auth.NewAuthenticator(nil, testJWTSecret),
	})
	return ta
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(testJWTSecret, userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as userID.
func doAuthRequest(t *testing.T, app *fiber.App, userID, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
	require.NoError(t, err)
	return resp
}

// doInternal performs a control-plane request with the given token.
func doInternal(t *testing.T, app *fiber.App, token, method, path, body string) *http.Response {
	t.Helper()
	headers := map[string]string{}
	if token != "" {
		headers["X-Internal-Token"] = token
	}
	resp, err := doRequest(app, method, path, body, headers)
	require.NoError(t, err)
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// parseJSON parses response body into a map. The raw body is returned too
// so callers can check it never leaks a storage location.
func parseJSON(t *testing.T, resp *http.Response) (map[string]interface{}, string) {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &result), "body: %s", body)
	return result, body
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// upload posts a multipart file as userID and returns the reference.
func upload(t *testing.T, ta *testApp, userID, fileName, contentType string, data []byte) string {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	require.NoError(t, err)
	_, _ = part.Write(data)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, "/api/uploads", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t, userID))

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	result, _ := parseJSON(t, resp)
	return result["url"].(string)
}

// fixture is a decompiled project with one flavor at version 1.
type fixture struct {
	userID    string
	apkRef    string
	projectID string
	flavorID  string
	v1ID      string
}

func readyFlavor(t *testing.T, ta *testApp, userID string) *fixture {
	t.Helper()
	f := &fixture{userID: userID}
	f.apkRef = upload(t, ta, userID, "base.apk", "application/vnd.android.package-archive", []byte("PK\x03\x04base"))

	resp := doAuthRequest(t, ta.app, userID, http.MethodPost, "/api/projects",
		mustJSON(t, map[string]string{"name": "Acme", "apkUrl": f.apkRef}))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	project, _ := parseJSON(t, resp)
	f.projectID = project["id"].(string)

	for _, body := range []string{
		`{"status":"DECOMPILING","append":"unpacking\n"}`,
		`{"status":"READY","metadata":{"packageName":"com.acme.app","versionCode":7}}`,
	} {
		resp = doInternal(t, ta.app, testInternalToken, http.MethodPost, "/internal/projects/"+f.projectID+"/logs", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp = doAuthRequest(t, ta.app, userID, http.MethodPost, "/api/projects/"+f.projectID+"/flavors",
		`{"name":"Blue","config":{"app":{"name":"Blue App","primaryColor":"#0000ff"},"theme":{"dark":true}}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	flavor, _ := parseJSON(t, resp)
	f.flavorID = flavor["id"].(string)
	f.v1ID = flavor["currentVersion"].(map[string]interface{})["id"].(string)
	return f
}

func (ta *testApp) lastBuildJob(t *testing.T) model.BuildJobPayload {
	t.Helper()
	tasks := ta.queue.ofType(service.TaskTypeBuildDispatch)
	require.NotEmpty(t, tasks)
	var job model.BuildJobPayload
	require.NoError(t, json.Unmarshal(tasks[len(tasks)-1].Payload(), &job))
	return job
}
