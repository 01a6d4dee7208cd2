package e2e

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/service"
)

func TestUpload_ReferenceStreamsWithoutSession(t *testing.T) {
	ta := setupApp(t)
	ref := upload(t, ta, "user-1", "logo.png", "image/png", []byte("\x89PNG logo"))
	require.True(t, strings.HasPrefix(ref, "/api/files/"))

	resp, err := doRequest(ta.app, http.MethodGet, ref, "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "inline")
	assert.Equal(t, "\x89PNG logo", readBody(t, resp))

	resp, err = doRequest(ta.app, http.MethodGet, ref+"?download=true", "", nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	// A tampered signature is refused.
	resp, err = doRequest(ta.app, http.MethodGet, ref[:len(ref)-2]+"xx", "", nil)
	require.NoError(t, err)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestUpload_RequiresFile(t *testing.T) {
	ta := setupApp(t)
	resp := doAuthRequest(t, ta.app, "user-1", http.MethodPost, "/api/uploads", "")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestProject_DecompileLifecycle(t *testing.T) {
	ta := setupApp(t)
	f := readyFlavor(t, ta, "user-1")

	tasks := ta.queue.ofType(service.TaskTypeProjectDecompile)
	require.Len(t, tasks, 1)

	resp := doAuthRequest(t, ta.app, f.userID, http.MethodGet, "/api/projects/"+f.projectID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	project, raw := parseJSON(t, resp)
	assert.Equal(t, "READY", project["status"])
	assert.Equal(t, "com.acme.app", project["packageName"])
	assert.EqualValues(t, 7, project["versionCode"])
	assert.Equal(t, "unpacking\n", project["logs"])
	assert.True(t, strings.HasPrefix(project["apkUrl"].(string), "/api/files/"))
	assert.NotContains(t, raw, blobBase)
	assert.NotContains(t, project, "ownerId")

	// Only failed projects can be retried.
	resp = doAuthRequest(t, ta.app, f.userID, http.MethodPost, "/api/projects/"+f.projectID+"/decompile", "")
	assertStatus(t, resp, http.StatusConflict)

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list, _ := parseJSON(t, resp)
	assert.Len(t, list["projects"], 1)

	resp = doAuthRequest(t, ta.app, "user-2", http.MethodGet, "/api/projects", "")
	list, _ = parseJSON(t, resp)
	assert.Len(t, list["projects"], 0)
}

func TestProject_RetryAfterFailure(t *testing.T) {
	ta := setupApp(t)
	ref := upload(t, ta, "user-1", "base.apk", "application/vnd.android.package-archive", []byte("PK"))
	resp := doAuthRequest(t, ta.app, "user-1", http.MethodPost, "/api/projects",
		mustJSON(t, map[string]string{"name": "Broken", "apkUrl": ref}))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	project, _ := parseJSON(t, resp)
	id := project["id"].(string)

	resp = doInternal(t, ta.app, testInternalToken, http.MethodPost, "/internal/projects/"+id+"/logs",
		`{"status":"FAILED","append":"apktool: not an apk\n"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doAuthRequest(t, ta.app, "user-2", http.MethodPost, "/api/projects/"+id+"/decompile", "")
	assertStatus(t, resp, http.StatusNotFound)

	resp = doAuthRequest(t, ta.app, "user-1", http.MethodPost, "/api/projects/"+id+"/decompile", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	retried, _ := parseJSON(t, resp)
	assert.Equal(t, "PENDING", retried["status"])
	assert.Contains(t, retried["logs"], "apktool: not an apk")
	assert.Len(t, ta.queue.ofType(service.TaskTypeProjectDecompile), 2)
}

func TestProject_RejectsForeignApk(t *testing.T) {
	ta := setupApp(t)
	resp := doAuthRequest(t, ta.app, "user-1", http.MethodPost, "/api/projects",
		`{"name":"Elsewhere","apkUrl":"https://evil.test/app.apk"}`)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doAuthRequest(t, ta.app, "user-1", http.MethodPost, "/api/projects", `{"apkUrl":""}`)
	assertStatus(t, resp, http.StatusBadRequest)
	body, _ := parseJSON(t, resp)
	assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]interface{})["code"])
}

func TestFlavor_SnapshotsAndRollback(t *testing.T) {
	ta := setupApp(t)
	f := readyFlavor(t, ta, "user-1")
	base := "/api/flavors/" + f.flavorID

	resp := doAuthRequest(t, ta.app, f.userID, http.MethodPut, base+"/config",
		`{"config":{"app":{"name":"Green App","primaryColor":"#00ff00"}}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodPost, base+"/rollback",
		mustJSON(t, model.RollbackFlavorRequest{VersionID: f.v1ID}))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	v3, _ := parseJSON(t, resp)
	assert.EqualValues(t, 3, v3["version"])
	cfg := v3["config"].(map[string]interface{})
	assert.Equal(t, "Blue App", cfg["app"].(map[string]interface{})["name"])
	assert.Equal(t, map[string]interface{}{"dark": true}, cfg["theme"])

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodGet, base+"/versions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history, _ := parseJSON(t, resp)
	versions := history["versions"].([]interface{})
	require.Len(t, versions, 3)
	var numbers []float64
	for _, v := range versions {
		numbers = append(numbers, v.(map[string]interface{})["version"].(float64))
	}
	assert.Equal(t, []float64{3, 2, 1}, numbers)

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	flavor, _ := parseJSON(t, resp)
	assert.EqualValues(t, 3, flavor["currentVersion"].(map[string]interface{})["version"])

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodPost, base+"/rollback", `{"versionId":"not-a-uuid"}`)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestFlavor_InternalPatchAndValidation(t *testing.T) {
	ta := setupApp(t)
	f := readyFlavor(t, ta, "user-1")

	resp := doInternal(t, ta.app, testInternalToken, http.MethodPatch, "/internal/flavors/"+f.flavorID+"/config",
		`{"config":{"app":{"name":"Blue App"},"signing":{"keyAlias":"release"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	patched, _ := parseJSON(t, resp)
	assert.EqualValues(t, 2, patched["version"])

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodPut, "/api/flavors/"+f.flavorID+"/config",
		`{"config":{"app":{"applicationId":"not a package"}}}`)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doAuthRequest(t, ta.app, f.userID, http.MethodDelete, "/api/flavors/"+f.flavorID, "")
	assertStatus(t, resp, http.StatusNoContent)
	resp = doAuthRequest(t, ta.app, f.userID, http.MethodGet, "/api/flavors/"+f.flavorID, "")
	assertStatus(t, resp, http.StatusNotFound)
}
