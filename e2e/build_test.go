package e2e

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qasim313/Unbrandit/internal/model"
)

func startBuild(t *testing.T, ta *testApp, f *fixture) (map[string]interface{}, string) {
	t.Helper()
	resp := doAuthRequest(t, ta.app, f.userID, http.MethodPost, "/api/builds",
		mustJSON(t, map[string]string{"flavorId": f.flavorID, "buildType": "APK"}))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	return parseJSON(t, resp)
}

func getBuild(t *testing.T, ta *testApp, userID, id string) (map[string]interface{}, string) {
	t.Helper()
	resp := doAuthRequest(t, ta.app, userID, http.MethodGet, "/api/builds/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return parseJSON(t, resp)
}

func TestBuild_EnqueuePinsSnapshot(t *testing.T) {
	ta := setupApp(t)
	f := readyFlavor(t, ta, "user-1")

	build, raw := startBuild(t, ta, f)
	id := build["id"].(string)
	assert.Equal(t, "QUEUED", build["status"])
	assert.Equal(t, f.v1ID, build["flavorVersionId"])
	assert.True(t, strings.HasPrefix(build["sourceUrl"].(string), "/api/files/"))
	assert.NotContains(t, raw, blobBase)

	// The toolchain receives raw locations and the frozen configuration.
	job := ta.lastBuildJob(t)
	assert.Equal(t, id, job.BuildID)
	assert.True(t, strings.HasPrefix(job.SourceURL, blobBase))
	assert.Equal(t, model.SourceTypeAPK, job.SourceType)
	assert.Equal(t, "Blue App", job.Config.App.Name)
	assert.Contains(t, job.Config.Extra, "theme")

	// Editing the flavor afterwards does not move the build.
	resp := doAuthRequest(t, ta.app, f.userID, http.MethodPut, "/api/flavors/"+f.flavorID+"/config",
		`{"config":{"app":{"name":"Green App"}}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	v2, _ := parseJSON(t, resp)
	assert.EqualValues(t, 2, v2["version"])

	again, _ := getBuild(t, ta, f.userID, id)
	assert.Equal(t, f.v1ID, again["flavorVersionId"])
}

func TestBuild_ProgressAndDownload(t *testing.T) {
	ta := setupApp(t)
	f := readyFlavor(t, ta, "user-1")
	build, _ := startBuild(t, ta, f)
	id := build["id"].(string)
	progress := "/internal/builds/" + id + "/logs"

	// Callbacks without the shared secret change nothing.
	for _, token := range []string{"", "wrong-secret"} {
		resp := doInternal(t, ta.app, token, http.MethodPost, progress, `{"status":"RUNNING","append":"hijacked\n"}`)
		assertStatus(t, resp, http.StatusUnauthorized)
	}
	current, _ := getBuild(t, ta, f.userID, id)
	assert.Equal(t, "QUEUED", current["status"])
	assert.Equal(t, "", current["logs"])

	resp := doInternal(t, ta.app, testInternalToken, http.MethodPost, progress, `{"status":"RUNNING","append":"compiling\n"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ack, ackBody := parseJSON(t, resp)
	assert.Equal(t, "RUNNING", ack["status"])
	assert.NotContains(t, ackBody, "logs")

	artifact := []byte("PK\x03\x04signed-apk")
	rawURL, err := ta.storage.Upload(context.Background(), "builds/"+id+"/app-release.apk", bytes.NewReader(artifact), "application/vnd.android.package-archive")
	require.NoError(t, err)

	resp = doInternal(t, ta.app, testInternalToken, http.MethodPost, progress,
		mustJSON(t, map[string]string{"status": "SUCCESS", "append": "done\n", "downloadUrl": rawURL}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	done, raw := getBuild(t, ta, f.userID, id)
	assert.Equal(t, "SUCCESS", done["status"])
	assert.Equal(t, "compiling\ndone\n", done["logs"])
	downloadRef := done["downloadUrl"].(string)
	assert.True(t, strings.HasPrefix(downloadRef, "/api/files/"))
	assert.NotContains(t, raw, blobBase)

	// Owner download through the API.
	resp = doAuthRequest(t, ta.app, f.userID, http.MethodGet, "/api/builds/"+id+"/download", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "app-release.apk")
	assert.Equal(t, string(artifact), readBody(t, resp))

	// The reference itself streams without a session.
	resp, err = doRequest(ta.app, http.MethodGet, downloadRef, "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(artifact), readBody(t, resp))

	// Terminal builds reject further reports.
	resp = doInternal(t, ta.app, testInternalToken, http.MethodPost, progress, `{"append":"late line\n"}`)
	assertStatus(t, resp, http.StatusConflict)
}

func TestBuild_HiddenFromOtherUsers(t *testing.T) {
	ta := setupApp(t)
	f := readyFlavor(t, ta, "user-1")
	build, _ := startBuild(t, ta, f)
	id := build["id"].(string)

	for _, path := range []string{"/api/builds/" + id, "/api/builds/" + id + "/download", "/api/flavors/" + f.flavorID + "/builds"} {
		resp := doAuthRequest(t, ta.app, "user-2", http.MethodGet, path, "")
		assertStatus(t, resp, http.StatusNotFound)
	}

	resp := doAuthRequest(t, ta.app, "user-2", http.MethodPost, "/api/builds",
		mustJSON(t, map[string]string{"flavorId": f.flavorID, "buildType": "APK"}))
	assertStatus(t, resp, http.StatusNotFound)
}

func TestBuild_QueueUnavailableKeepsBuild(t *testing.T) {
	ta := setupApp(t)
	f := readyFlavor(t, ta, "user-1")
	ta.queue.fail = true

	resp := doAuthRequest(t, ta.app, f.userID, http.MethodPost, "/api/builds",
		mustJSON(t, map[string]string{"flavorId": f.flavorID, "buildType": "AAB"}))
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body, _ := parseJSON(t, resp)
	assert.Equal(t, "SERVICE_UNAVAILABLE", body["error"].(map[string]interface{})["code"])

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "QUEUED", data["status"])
	stored, err := ta.store.GetBuild(context.Background(), data["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, model.BuildStatusQueued, stored.Status)
}

func TestBuild_ValidationAndLogs(t *testing.T) {
	ta := setupApp(t)
	f := readyFlavor(t, ta, "user-1")

	resp := doAuthRequest(t, ta.app, f.userID, http.MethodPost, "/api/builds",
		mustJSON(t, map[string]string{"flavorId": f.flavorID, "buildType": "IPA"}))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodPost, "/api/builds",
		mustJSON(t, map[string]string{"flavorId": f.flavorID, "buildType": "APK", "sourceUrl": "https://evil.test/x.apk", "sourceType": "APK"}))
	assertStatus(t, resp, http.StatusBadRequest)

	build, _ := startBuild(t, ta, f)
	id := build["id"].(string)
	resp = doInternal(t, ta.app, testInternalToken, http.MethodPost, "/internal/builds/"+id+"/logs", `{"append":"line\n"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodDelete, "/api/builds/"+id+"/logs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared, _ := parseJSON(t, resp)
	assert.Equal(t, "", cleared["logs"])

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodDelete, "/api/builds/"+id, "")
	assertStatus(t, resp, http.StatusNoContent)
	resp = doAuthRequest(t, ta.app, f.userID, http.MethodGet, "/api/builds/"+id, "")
	assertStatus(t, resp, http.StatusNotFound)
}
