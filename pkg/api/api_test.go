package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiovault/audiovault/internal/blob"
	"github.com/audiovault/audiovault/pkg/api/auth"
	"github.com/audiovault/audiovault/pkg/cryptor"
	"github.com/audiovault/audiovault/pkg/drm"
	"github.com/audiovault/audiovault/pkg/metrics"
	"github.com/audiovault/audiovault/pkg/models"
	"github.com/audiovault/audiovault/pkg/store"
	"github.com/audiovault/audiovault/pkg/streamer"
	"github.com/audiovault/audiovault/pkg/upload"
)

const testPassword = "correct-horse-battery"

type testEnv struct {
	router http.Handler
	store  *store.GORMStore
	media  string
}

// newTestEnv wires the full router over a temp database and filesystem blob
// store, the same shape the server assembles at startup.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New(&store.Config{URL: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{
		Secret:        strings.Repeat("s", 48),
		TokenDuration: time.Hour,
	})
	require.NoError(t, err)

	crypt, err := cryptor.New(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	signer, err := drm.NewSigner(crypt.TokenSigningKey(), 30*time.Minute)
	require.NoError(t, err)
	minter := drm.NewMinter(signer, st)

	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	finalizers := map[string]*cryptor.Finalizer{
		models.ChapterStorageFilesystem: cryptor.NewFinalizer(crypt, st, blobs, models.ChapterStorageFilesystem, 2),
	}
	streams := streamer.New(st, crypt, blobs)

	media := t.TempDir()
	uploads, err := upload.New(st, upload.Config{
		WorkspaceRoot: filepath.Join(t.TempDir(), "uploads"),
		MediaRoot:     media,
		MaxChunkBytes: 64 << 10,
		MaxFileBytes:  16 << 20,
		TTL:           time.Hour,
	})
	require.NoError(t, err)

	router := NewRouter(Config{
		LoginRateLimit:  1000,
		LoginRateWindow: time.Minute,
	}, Deps{
		Store: st,
		JWT:   jwtSvc,
		Policy: store.LoginPolicy{
			MaxFailedLogins: 5,
			LockoutBackoff:  15 * time.Minute,
			SessionTTL:      24 * time.Hour,
		},
		Uploads:        uploads,
		Streams:        streams,
		Minter:         minter,
		Finalizers:     finalizers,
		DefaultBackend: models.ChapterStorageFilesystem,
		Blobs:          map[string]blob.Store{models.ChapterStorageFilesystem: blobs},
		MediaRoot:      media,
		CoversInline:   true,
		MaxFileBytes:   16 << 20,
		Metrics:        metrics.NewVaultMetrics(),
	})

	return &testEnv{router: router, store: st, media: media}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func jsonReq(t *testing.T, method, path, token string, body any) *http.Request {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func deviceData(fp string) map[string]any {
	return map[string]any{
		"deviceFingerprint": fp,
		"deviceName":        "Laptop",
		"platform":          "linux",
		"type":              "desktop",
	}
}

func (e *testEnv) register(t *testing.T, email, fp string) string {
	t.Helper()
	rec := e.do(jsonReq(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":      email,
		"password":   testPassword,
		"name":       "Test User",
		"deviceData": deviceData(fp),
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decodeMap(t, rec)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (e *testEnv) login(t *testing.T, email, fp string, approved bool) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(jsonReq(t, http.MethodPost, "/auth/login", "", map[string]any{
		"email":          email,
		"password":       testPassword,
		"deviceApproved": approved,
		"deviceData":     deviceData(fp),
	}))
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	_, err := e.store.EnsureAdminUser(context.Background(), "admin@example.com", testPassword)
	require.NoError(t, err)
	rec := e.login(t, "admin@example.com", "admin-fp", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decodeMap(t, rec)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

// cbrFrame is a valid MPEG1 Layer III header: 128 kbps, 44100 Hz, stereo.
var cbrFrame = []byte{0xFF, 0xFB, 0x90, 0x00}

const cbrFrameLen = 417

func buildMP3(frames int) []byte {
	var buf bytes.Buffer
	for i := 0; i < frames; i++ {
		buf.Write(cbrFrame)
		filler := make([]byte, cbrFrameLen-len(cbrFrame))
		for j := range filler {
			filler[j] = byte((i + j) % 251)
		}
		buf.Write(filler)
	}
	return buf.Bytes()
}

// seedFile writes an MP3 into the media root and registers it as a public
// file, bypassing the upload pipeline.
func (e *testEnv) seedFile(t *testing.T, content []byte, duration float64) string {
	t.Helper()
	path := filepath.Join(e.media, "seed.mp3")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	sum := sha256.Sum256(content)
	id, err := e.store.CreateFile(context.Background(), &models.AudioFile{
		Title:       "Chaptered Book",
		SHA256:      hex.EncodeToString(sum[:]),
		Size:        int64(len(content)),
		MimeType:    "audio/mpeg",
		Duration:    duration,
		Visibility:  string(models.VisibilityPublic),
		StoragePath: path,
	})
	require.NoError(t, err)
	return id
}

func TestAuthLifecycle(t *testing.T) {
	env := newTestEnv(t)

	token := env.register(t, "alice@example.com", "fp-1")

	rec := env.do(jsonReq(t, http.MethodGet, "/auth/me", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	user := decodeMap(t, rec)["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])

	// No bearer token at all.
	rec = env.do(jsonReq(t, http.MethodGet, "/auth/me", "", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout revokes the session; the JWT alone no longer suffices.
	rec = env.do(jsonReq(t, http.MethodPost, "/auth/logout", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(jsonReq(t, http.MethodGet, "/auth/me", token, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout also deactivates the calling device.
	alice, err := env.store.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	active, err := env.store.ListActiveDevices(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(jsonReq(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "short@example.com", "password": "tiny",
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.register(t, "dupe@example.com", "fp-1")
	rec = env.do(jsonReq(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "dupe@example.com", "password": testPassword, "deviceData": deviceData("fp-2"),
	}))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSingleDevicePolicy(t *testing.T) {
	env := newTestEnv(t)

	firstToken := env.register(t, "bob@example.com", "fp-first")

	// A second device without approval is asked to confirm.
	rec := env.login(t, "bob@example.com", "fp-second", false)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["requiresDeviceApproval"])

	// Confirming while another device is active locks the account.
	rec = env.login(t, "bob@example.com", "fp-second", true)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, models.CodePolicyViolation, decodeMap(t, rec)["code"])

	// Every session died with the lock.
	rec = env.do(jsonReq(t, http.MethodGet, "/auth/me", firstToken, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Even the original device cannot log back in until an admin unlocks.
	rec = env.login(t, "bob@example.com", "fp-first", false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, models.CodeLocked, decodeMap(t, rec)["code"])

	user, err := env.store.GetUserByEmail(context.Background(), "bob@example.com")
	require.NoError(t, err)
	require.NoError(t, env.store.UnlockUser(context.Background(), user.ID))

	rec = env.login(t, "bob@example.com", "fp-first", false)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAdminUnlockEndpoint(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.adminToken(t)

	env.register(t, "carol@example.com", "fp-1")
	user, err := env.store.GetUserByEmail(context.Background(), "carol@example.com")
	require.NoError(t, err)
	require.NoError(t, env.store.LockUser(context.Background(), user.ID))

	rec := env.do(jsonReq(t, http.MethodPatch, "/admin/users/"+user.ID+"/unlock", adminToken, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.login(t, "carol@example.com", "fp-1", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Non-admins cannot reach the admin surface.
	userToken := env.register(t, "dave@example.com", "fp-d")
	rec = env.do(jsonReq(t, http.MethodPatch, "/admin/users/"+user.ID+"/unlock", userToken, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminUserManagement(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.adminToken(t)

	rec := env.do(jsonReq(t, http.MethodPost, "/admin/users", adminToken, map[string]any{
		"email": "eve@example.com", "password": testPassword, "name": "Eve",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeMap(t, rec)["user"].(map[string]any)
	userID := created["id"].(string)
	assert.Equal(t, "user", created["role"])

	rec = env.do(jsonReq(t, http.MethodGet, "/admin/users", adminToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeMap(t, rec)["users"].([]any)
	assert.Len(t, users, 2)

	rec = env.do(jsonReq(t, http.MethodGet, "/admin/users/"+userID, adminToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "eve@example.com", decodeMap(t, rec)["user"].(map[string]any)["email"])

	// Deleting is refused while the account has a live session.
	userToken := env.register(t, "frank@example.com", "fp-f")
	frank, err := env.store.GetUserByEmail(context.Background(), "frank@example.com")
	require.NoError(t, err)
	rec = env.do(jsonReq(t, http.MethodDelete, "/admin/users/"+frank.ID, adminToken, nil))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = env.do(jsonReq(t, http.MethodPost, "/auth/logout", userToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(jsonReq(t, http.MethodDelete, "/admin/users/"+frank.ID, adminToken, nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(jsonReq(t, http.MethodGet, "/admin/users/"+frank.ID, adminToken, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSigningKeyRotation(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.adminToken(t)

	content := buildMP3(50)
	fileID := env.seedFile(t, content, float64(50*1152)/44100)
	userToken := env.register(t, "gina@example.com", "fp-g")

	rec := env.do(jsonReq(t, http.MethodPost, "/drm/session/"+fileID, userToken, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	streamToken := decodeMap(t, rec)["sessionToken"].(string)

	rec = env.do(jsonReq(t, http.MethodGet, "/drm/stream/"+streamToken, "", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Rotation kills every outstanding token; clients must re-issue.
	rec = env.do(jsonReq(t, http.MethodPost, "/admin/drm/rotate-key", adminToken, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(jsonReq(t, http.MethodGet, "/drm/stream/"+streamToken, "", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, models.CodeInvalidToken, decodeMap(t, rec)["code"])

	// A freshly minted token uses the new key.
	rec = env.do(jsonReq(t, http.MethodPost, "/drm/session/"+fileID, userToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	streamToken = decodeMap(t, rec)["sessionToken"].(string)
	rec = env.do(jsonReq(t, http.MethodGet, "/drm/stream/"+streamToken, "", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func chunkReq(t *testing.T, token, uploadID string, index int, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("chunk", "chunk.bin")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/audio/upload/chunk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Upload-Id", uploadID)
	req.Header.Set("X-Chunk-Index", strconv.Itoa(index))
	return req
}

func TestUploadEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "uploader@example.com", "fp-u")

	content := make([]byte, 150_000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	sum := sha256.Sum256(content)
	const chunkSize = 50_000

	rec := env.do(jsonReq(t, http.MethodPost, "/audio/upload/init", token, map[string]any{
		"fileName":    "book.mp3",
		"fileSize":    len(content),
		"totalChunks": 3,
		"fileHash":    hex.EncodeToString(sum[:]),
		"mimeType":    "audio/mpeg",
		"title":       "Uploaded Book",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	uploadID := decodeMap(t, rec)["data"].(map[string]any)["uploadId"].(string)
	require.NotEmpty(t, uploadID)

	// Advisory headers that disagree with the session fail the chunk early.
	req := chunkReq(t, token, uploadID, 0, content[:chunkSize])
	req.Header.Set("X-Total-Chunks", "99")
	rec = env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	req = chunkReq(t, token, uploadID, 0, content[:chunkSize])
	req.Header.Set("X-File-Name", "someone-elses-book.mp3")
	rec = env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Matching echoes pass.
	req = chunkReq(t, token, uploadID, 0, content[:chunkSize])
	req.Header.Set("X-Total-Chunks", "3")
	req.Header.Set("X-File-Name", "book.mp3")
	req.Header.Set("X-File-Size", strconv.Itoa(len(content)))
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Out of order on purpose.
	for _, i := range []int{2, 0, 1} {
		end := (i + 1) * chunkSize
		if end > len(content) {
			end = len(content)
		}
		rec = env.do(chunkReq(t, token, uploadID, i, content[i*chunkSize:end]))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = env.do(jsonReq(t, http.MethodGet, "/audio/upload/status/"+uploadID, token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeMap(t, rec)
	assert.Equal(t, float64(3), status["totalChunks"])
	assert.Len(t, status["uploadedChunks"], 3)
	assert.Empty(t, status["missingChunks"])

	// Another user cannot touch the session.
	otherToken := env.register(t, "snoop@example.com", "fp-s")
	rec = env.do(jsonReq(t, http.MethodGet, "/audio/upload/status/"+uploadID, otherToken, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(jsonReq(t, http.MethodPost, "/audio/upload/finalize/"+uploadID, token, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	file := decodeMap(t, rec)["file"].(map[string]any)
	assert.Equal(t, "Uploaded Book", file["title"])
	assert.Equal(t, float64(len(content)), file["size"])

	// The file is now listed for its uploader.
	rec = env.do(jsonReq(t, http.MethodGet, "/files", token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadIntegrityFailure(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "uploader@example.com", "fp-u")

	content := []byte("these bytes will not match the declared hash")
	rec := env.do(jsonReq(t, http.MethodPost, "/audio/upload/init", token, map[string]any{
		"fileName":    "bad.mp3",
		"fileSize":    len(content),
		"totalChunks": 1,
		"fileHash":    strings.Repeat("0", 64),
		"mimeType":    "audio/mpeg",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	uploadID := decodeMap(t, rec)["data"].(map[string]any)["uploadId"].(string)

	rec = env.do(chunkReq(t, token, uploadID, 0, content))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(jsonReq(t, http.MethodPost, "/audio/upload/finalize/"+uploadID, token, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, models.CodeIntegrityFailed, decodeMap(t, rec)["code"])
}

// listChapters fetches the chapter rows sorted by start time.
func (e *testEnv) listChapters(t *testing.T, token, fileID string) []map[string]any {
	t.Helper()
	rec := e.do(jsonReq(t, http.MethodGet, "/files/"+fileID+"/chapters", token, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	raw := decodeMap(t, rec)["chapters"].([]any)
	chapters := make([]map[string]any, len(raw))
	for i, c := range raw {
		chapters[i] = c.(map[string]any)
	}
	sort.Slice(chapters, func(i, j int) bool {
		return chapters[i]["startTime"].(float64) < chapters[j]["startTime"].(float64)
	})
	return chapters
}

func TestChapterStreamingEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.adminToken(t)

	const frames = 400
	content := buildMP3(frames)
	duration := float64(frames) * 1152 / 44100 // ~10.45s
	fileID := env.seedFile(t, content, duration)
	size := int64(len(content))

	rec := env.do(jsonReq(t, http.MethodPost, "/files/"+fileID+"/chapters", adminToken, map[string]any{
		"chapters": []map[string]any{
			{"label": "Intro", "startTime": 0, "endTime": 2},
			{"label": "Body", "startTime": 2, "endTime": 8},
			{"label": "Outro", "startTime": 8},
		},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(jsonReq(t, http.MethodPost, "/files/"+fileID+"/chapters/finalize", adminToken, map[string]any{}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(3), decodeMap(t, rec)["finalizedChapters"])

	userToken := env.register(t, "listener@example.com", "fp-l")

	rec = env.do(jsonReq(t, http.MethodGet, "/drm/status/"+fileID, userToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	drmStatus := decodeMap(t, rec)
	assert.Equal(t, true, drmStatus["chaptered"])
	assert.Equal(t, float64(3), drmStatus["chapters"].(map[string]any)["ready"])

	rec = env.do(jsonReq(t, http.MethodPost, "/drm/session/"+fileID, userToken, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	streamToken := decodeMap(t, rec)["sessionToken"].(string)
	require.NotEmpty(t, streamToken)

	// Full fetch: the decrypted chapter concatenation reproduces the
	// original byte for byte.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/drm/stream/"+streamToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store, private", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "inline", rec.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, content, rec.Body.Bytes())

	// Ranged fetch: exactly the requested window.
	req := httptest.NewRequest(http.MethodGet, "/drm/stream/"+streamToken, nil)
	req.Header.Set("Range", "bytes=0-4095")
	rec = env.do(req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, fmt.Sprintf("bytes 0-4095/%d", size), rec.Header().Get("Content-Range"))
	require.Equal(t, 4096, rec.Body.Len())
	assert.Equal(t, content[:4096], rec.Body.Bytes())

	// A range deep in the file crosses chapter boundaries transparently.
	req = httptest.NewRequest(http.MethodGet, "/drm/stream/"+streamToken, nil)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", size-30_000))
	rec = env.do(req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, content[size-30_000:], rec.Body.Bytes())

	// Unsatisfiable range.
	req = httptest.NewRequest(http.MethodGet, "/drm/stream/"+streamToken, nil)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", size))
	rec = env.do(req)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, fmt.Sprintf("bytes */%d", size), rec.Header().Get("Content-Range"))

	// Chapter streaming: the "Body" chapter's plaintext is the slice of the
	// original between its cut points.
	chapters := env.listChapters(t, userToken, fileID)
	require.Len(t, chapters, 3)
	introSize := int64(chapters[0]["plainSize"].(float64))
	bodyID := chapters[1]["id"].(string)
	bodySize := int64(chapters[1]["plainSize"].(float64))
	require.Greater(t, bodySize, int64(4096))

	rec = env.do(jsonReq(t, http.MethodPost, "/files/"+fileID+"/chapters/"+bodyID+"/stream-url", userToken, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	streamURL := decodeMap(t, rec)["streamUrl"].(string)
	require.True(t, strings.HasPrefix(streamURL, "/drm/chapter/"))

	req = httptest.NewRequest(http.MethodGet, streamURL, nil)
	req.Header.Set("Range", "bytes=0-4095")
	rec = env.do(req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, fmt.Sprintf("bytes 0-4095/%d", bodySize), rec.Header().Get("Content-Range"))
	require.Equal(t, 4096, rec.Body.Len())
	assert.Equal(t, content[introSize:introSize+4096], rec.Body.Bytes())

	// Logout kills every DRM token minted under the session.
	rec = env.do(jsonReq(t, http.MethodPost, "/auth/logout", userToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(httptest.NewRequest(http.MethodGet, "/drm/stream/"+streamToken, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedURLWindow(t *testing.T) {
	env := newTestEnv(t)

	const frames = 400
	content := buildMP3(frames)
	duration := float64(frames) * 1152 / 44100
	fileID := env.seedFile(t, content, duration)
	size := int64(len(content))

	token := env.register(t, "listener@example.com", "fp-l")

	rec := env.do(jsonReq(t, http.MethodPost, "/drm/signed-url/"+fileID, token, map[string]any{
		"startTime": 1,
		"endTime":   3,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	signedURL := decodeMap(t, rec)["signedUrl"].(string)
	require.True(t, strings.HasPrefix(signedURL, "/drm/url/"))

	// The window maps proportionally over the file bytes.
	durationMs := int64(duration * 1000)
	start := size * 1000 / durationMs
	end := size * 3000 / durationMs
	windowLen := end - start

	rec = env.do(httptest.NewRequest(http.MethodGet, signedURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int(windowLen), rec.Body.Len())
	assert.Equal(t, content[start:end], rec.Body.Bytes())

	// Range requests are relative to the window, not the file.
	req := httptest.NewRequest(http.MethodGet, signedURL, nil)
	req.Header.Set("Range", "bytes=0-999")
	rec = env.do(req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, fmt.Sprintf("bytes 0-999/%d", windowLen), rec.Header().Get("Content-Range"))
	assert.Equal(t, content[start:start+1000], rec.Body.Bytes())

	// endTime -1 streams from the shift point to the end of the file.
	rec = env.do(jsonReq(t, http.MethodPost, "/drm/signed-url/"+fileID, token, map[string]any{
		"startTime": 1,
		"endTime":   -1,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	openURL := decodeMap(t, rec)["signedUrl"].(string)
	rec = env.do(httptest.NewRequest(http.MethodGet, openURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content[start:], rec.Body.Bytes())

	req = httptest.NewRequest(http.MethodGet, openURL, nil)
	req.Header.Set("Range", "bytes=0-0")
	rec = env.do(req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, content[start:start+1], rec.Body.Bytes())

	// Inverted windows never mint.
	rec = env.do(jsonReq(t, http.MethodPost, "/drm/signed-url/"+fileID, token, map[string]any{
		"startTime": 3,
		"endTime":   1,
	}))
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestPrivateFileNeedsGrant(t *testing.T) {
	env := newTestEnv(t)

	content := buildMP3(100)
	path := filepath.Join(env.media, "private.mp3")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	sum := sha256.Sum256(content)
	fileID, err := env.store.CreateFile(context.Background(), &models.AudioFile{
		Title:       "Private Book",
		SHA256:      hex.EncodeToString(sum[:]),
		Size:        int64(len(content)),
		MimeType:    "audio/mpeg",
		Duration:    10,
		Visibility:  string(models.VisibilityPrivate),
		StoragePath: path,
	})
	require.NoError(t, err)

	token := env.register(t, "outsider@example.com", "fp-o")
	rec := env.do(jsonReq(t, http.MethodPost, "/drm/session/"+fileID, token, nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, models.CodeForbidden, decodeMap(t, rec)["code"])

	// An admin grant opens the file up.
	adminToken := env.adminToken(t)
	user, err := env.store.GetUserByEmail(context.Background(), "outsider@example.com")
	require.NoError(t, err)
	rec = env.do(jsonReq(t, http.MethodPost, "/admin/file-access", adminToken, map[string]any{
		"userId": user.ID,
		"fileId": fileID,
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(jsonReq(t, http.MethodPost, "/drm/session/"+fileID, token, nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestChapterWritesAreAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	content := buildMP3(100)
	fileID := env.seedFile(t, content, 10)

	token := env.register(t, "plain@example.com", "fp-p")
	rec := env.do(jsonReq(t, http.MethodPost, "/files/"+fileID+"/chapters", token, map[string]any{
		"chapters": []map[string]any{{"label": "X", "startTime": 0}},
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(jsonReq(t, http.MethodPost, "/files/"+fileID+"/chapters/finalize", token, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audiovault", decodeMap(t, rec)["service"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
