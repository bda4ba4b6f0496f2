package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sharegate/sharegate/internal/auth"
	"github.com/sharegate/sharegate/internal/models"
	"github.com/sharegate/sharegate/internal/repository"
	"github.com/sharegate/sharegate/internal/service"
	"github.com/sharegate/sharegate/internal/storage"
	"github.com/sharegate/sharegate/pkg/testutil"
)

const testBaseURL = "https://share.example.test"

type handlerTestResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	app        *fiber.App
	db         *sql.DB
	blobs      *storage.LocalStore
	userTokens *auth.TokenManager
	files      *repository.FileRepository
	mappings   *repository.LinkMappingRepository
	links      *repository.SecureLinkRepository
	fileSvc    *service.FileService
	ctx        context.Context
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, cfg, cleanup := testutil.SetupTest(t)
	t.Cleanup(cleanup)

	blobs, err := storage.NewLocalStore(cfg.StoragePath, testBaseURL, []byte("blob-signing-secret"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	files := repository.NewFileRepository(db)
	grants := repository.NewGrantRepository(db)
	links := repository.NewSecureLinkRepository(db)
	mappings := repository.NewLinkMappingRepository(db)
	requests := repository.NewAccessRequestRepository(db)
	userTokens := auth.NewTokenManager("user-token-secret")
	linkTokens := auth.NewTokenManager("link-token-secret")

	access := service.NewAccessResolver(files, grants)
	fileSvc := service.NewFileService(files, access, blobs, 10*1024*1024)

	app := fiber.New()
	RegisterRoutes(app, Dependencies{
		DB:          db,
		Blobs:       blobs,
		UserTokens:  userTokens,
		Files:       fileSvc,
		Grants:      service.NewGrantService(grants, requests, files, access),
		SecureLinks: service.NewSecureLinkService(links, files, access, blobs, testBaseURL),
		ShortLinks:  service.NewShortLinkService(mappings, files, blobs, linkTokens, testBaseURL, 5*time.Minute, time.Minute),
	})

	return &testServer{
		app:        app,
		db:         db,
		blobs:      blobs,
		userTokens: userTokens,
		files:      files,
		mappings:   mappings,
		links:      links,
		fileSvc:    fileSvc,
		ctx:        context.Background(),
	}
}

func (s *testServer) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.userTokens.GenerateToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

// do sends a request, optionally as userID, with a JSON body when body is
// not nil.
func (s *testServer) do(t *testing.T, method, target, userID string, body any, headers ...string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokenFor(t, userID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func (s *testServer) upload(t *testing.T, userID, name, content string) *models.File {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.tokenFor(t, userID))
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	var file models.File
	decodeData(t, resp, fiber.StatusCreated, &file)
	return &file
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func decodeEnvelope(t *testing.T, resp *http.Response) handlerTestResponse {
	t.Helper()
	body := readBody(t, resp)
	var envelope handlerTestResponse
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("decode envelope %q: %v", body, err)
	}
	return envelope
}

// decodeData checks the status and unpacks the envelope's data into out.
func decodeData(t *testing.T, resp *http.Response, wantStatus int, out any) {
	t.Helper()
	if resp.StatusCode != wantStatus {
		t.Fatalf("status=%d, want %d: %s", resp.StatusCode, wantStatus, readBody(t, resp))
	}
	envelope := decodeEnvelope(t, resp)
	if !envelope.Success {
		t.Fatalf("expected success envelope, got error %q", envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("decode data %s: %v", envelope.Data, err)
		}
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) handlerTestResponse {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status=%d, want %d: %s", resp.StatusCode, want, readBody(t, resp))
	}
	return decodeEnvelope(t, resp)
}

// relative strips the public base URL so the path can be replayed against
// the in-process app.
func relative(t *testing.T, rawURL string) string {
	t.Helper()
	if !strings.HasPrefix(rawURL, testBaseURL) {
		t.Fatalf("url %q does not start with %q", rawURL, testBaseURL)
	}
	return strings.TrimPrefix(rawURL, testBaseURL)
}
