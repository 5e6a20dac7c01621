package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/askdocs/askdocs/internal/auth"
	"github.com/askdocs/askdocs/internal/config"
	"github.com/askdocs/askdocs/internal/rag"
	"github.com/askdocs/askdocs/internal/store"
)

// fakeEngine implements Engine with canned behavior per test.
type fakeEngine struct {
	processCount int
	answer       rag.Answer
	deleteOK     bool
	clearOK      bool

	processedPaths []string
	deletedDocIDs  []int64
}

func (f *fakeEngine) ProcessDocument(_ context.Context, path string, _ int64) int {
	f.processedPaths = append(f.processedPaths, path)
	return f.processCount
}
func (f *fakeEngine) Query(context.Context, string) rag.Answer { return f.answer }
func (f *fakeEngine) DeleteDocument(_ context.Context, id int64) bool {
	f.deletedDocIDs = append(f.deletedDocIDs, id)
	return f.deleteOK
}
func (f *fakeEngine) ClearAll(context.Context) bool     { return f.clearOK }
func (f *fakeEngine) DocumentCount(context.Context) int { return 0 }

type testServer struct {
	*Server
	engine    *fakeEngine
	uploadDir string
	handler   http.Handler
	token     string
	userID    int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dataDir := t.TempDir()
	st, err := store.NewStore(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	authn := auth.New("test-secret", time.Hour)
	engine := &fakeEngine{processCount: 3, deleteOK: true, clearOK: true,
		answer: rag.Answer{Answer: "grounded answer", Sources: []rag.Source{{Title: "a.txt", Type: rag.SourceTypePersonal}}}}

	uploadDir := filepath.Join(dataDir, "uploads")
	require.NoError(t, os.MkdirAll(uploadDir, 0o700))

	cfg := config.Default()
	srv := New(st, authn, func(int64) (Engine, string) { return engine, uploadDir }, cfg, nil)

	userID, err := st.CreateUser(context.Background(), "user@example.com", mustHash(t, authn, "password123"))
	require.NoError(t, err)
	token, err := authn.GenerateToken(userID, "user@example.com")
	require.NoError(t, err)

	return &testServer{
		Server:    srv,
		engine:    engine,
		uploadDir: uploadDir,
		handler:   srv.Router(),
		token:     token,
		userID:    userID,
	}
}

func mustHash(t *testing.T, a *auth.Authenticator, password string) string {
	t.Helper()
	h, err := a.HashPassword(password)
	require.NoError(t, err)
	return h
}

func (ts *testServer) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+ts.token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func multipartFile(t *testing.T, fieldName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(fieldName, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	body := bytes.NewBufferString(`{"email":"new@example.com","password":"longenough"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", body)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])

	// Duplicate registration conflicts
	body = bytes.NewBufferString(`{"email":"new@example.com","password":"longenough"}`)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", body))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Login with the seeded user
	body = bytes.NewBufferString(`{"email":"user@example.com","password":"password123"}`)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong password
	body = bytes.NewBufferString(`{"email":"user@example.com","password":"wrong"}`)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unknown email gets the same response as a wrong password
	body = bytes.NewBufferString(`{"email":"nobody@example.com","password":"password123"}`)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDummyPasswordHashIsValidBcrypt(t *testing.T) {
	// The unknown-email login path burns a real bcrypt comparison
	// against this hash; it has to parse as one.
	cost, err := bcrypt.Cost([]byte(dummyPasswordHash))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cost, bcrypt.DefaultCost)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadDocument(t *testing.T) {
	ts := newTestServer(t)

	body, contentType := multipartFile(t, "file", "notes.txt", []byte("some document content"))
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var doc documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "notes.txt", doc.Title)
	assert.True(t, doc.Processed)
	assert.Equal(t, 3, doc.ChunkCount)

	// File landed in the upload dir under its original name.
	require.Len(t, ts.engine.processedPaths, 1)
	assert.Equal(t, filepath.Join(ts.uploadDir, "notes.txt"), ts.engine.processedPaths[0])
	_, err := os.Stat(ts.engine.processedPaths[0])
	assert.NoError(t, err)
}

func TestUploadDuplicateFilenameGetsDistinctPath(t *testing.T) {
	ts := newTestServer(t)

	body, contentType := multipartFile(t, "file", "notes.txt", []byte("first version"))
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)
	var first documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	body, contentType = multipartFile(t, "file", "notes.txt", []byte("second version"))
	rec = ts.do(t, http.MethodPost, "/api/v1/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, ts.engine.processedPaths, 2)
	assert.Equal(t, filepath.Join(ts.uploadDir, "notes.txt"), ts.engine.processedPaths[0])
	assert.Equal(t, filepath.Join(ts.uploadDir, "notes_1.txt"), ts.engine.processedPaths[1])

	// Neither upload clobbered the other.
	got, err := os.ReadFile(ts.engine.processedPaths[0])
	require.NoError(t, err)
	assert.Equal(t, "first version", string(got))
	got, err = os.ReadFile(ts.engine.processedPaths[1])
	require.NoError(t, err)
	assert.Equal(t, "second version", string(got))

	// Deleting the first document leaves the second's file on disk.
	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/documents/%d", first.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, err = os.Stat(ts.engine.processedPaths[0])
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(ts.engine.processedPaths[1])
	assert.NoError(t, err)
}

func TestUploadZeroChunksLeavesUnprocessed(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.processCount = 0

	body, contentType := multipartFile(t, "file", "empty.txt", []byte(" "))
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.False(t, doc.Processed)
	assert.Equal(t, 0, doc.ChunkCount)
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	ts := newTestServer(t)

	body, contentType := multipartFile(t, "file", "doc.rtf", []byte("{\\rtf1}"))
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.engine.processedPaths)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	ts := newTestServer(t)
	ts.config.Engine.MaxUploadMiB = 1

	big := bytes.Repeat([]byte("x"), 2<<20) // 2 MiB
	body, contentType := multipartFile(t, "file", "big.txt", big)
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", body, contentType)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestListAndDeleteDocument(t *testing.T) {
	ts := newTestServer(t)

	body, contentType := multipartFile(t, "file", "a.txt", []byte("content"))
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)
	var doc documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	rec = ts.do(t, http.MethodGet, "/api/v1/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)

	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/documents/%d", doc.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{doc.ID}, ts.engine.deletedDocIDs)

	// The stored file is gone and the record too.
	_, err := os.Stat(filepath.Join(ts.uploadDir, "a.txt"))
	assert.True(t, os.IsNotExist(err))

	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/documents/%d", doc.ID), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatPersistsTranscript(t *testing.T) {
	ts := newTestServer(t)

	body := bytes.NewBufferString(`{"question":"what is in my documents?"}`)
	rec := ts.do(t, http.MethodPost, "/api/v1/chat", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "what is in my documents?", resp.Question)
	assert.Equal(t, "grounded answer", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "a.txt", resp.Sources[0].Title)

	rec = ts.do(t, http.MethodGet, "/api/v1/chat/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []store.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "what is in my documents?", msgs[0].Query)
	assert.Equal(t, "grounded answer", msgs[0].Response)
}

func TestChatRejectsEmptyQuestion(t *testing.T) {
	ts := newTestServer(t)

	body := bytes.NewBufferString(`{"question":"   "}`)
	rec := ts.do(t, http.MethodPost, "/api/v1/chat", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearData(t *testing.T) {
	ts := newTestServer(t)

	body, contentType := multipartFile(t, "file", "a.txt", []byte("content"))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/documents", body, contentType).Code)

	chatBody := bytes.NewBufferString(`{"question":"q"}`)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/chat", chatBody, "application/json").Code)

	rec := ts.do(t, http.MethodDelete, "/api/v1/data", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/documents", nil, "")
	var docs []documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Empty(t, docs)

	rec = ts.do(t, http.MethodGet, "/api/v1/chat/history", nil, "")
	var msgs []store.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	assert.Empty(t, msgs)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ok"))
}
