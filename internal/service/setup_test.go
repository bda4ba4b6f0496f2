package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sharegate/sharegate/internal/auth"
	"github.com/sharegate/sharegate/internal/models"
	"github.com/sharegate/sharegate/internal/repository"
	"github.com/sharegate/sharegate/internal/storage"
	"github.com/sharegate/sharegate/pkg/testutil"
)

const testBaseURL = "https://share.example.test"

type serviceTestEnv struct {
	files       *repository.FileRepository
	grants      *repository.GrantRepository
	links       *repository.SecureLinkRepository
	mappings    *repository.LinkMappingRepository
	requests    *repository.AccessRequestRepository
	blobs       *storage.LocalStore
	linkTokens  *auth.TokenManager
	access      *AccessResolver
	fileSvc     *FileService
	grantSvc    *GrantService
	secureSvc   *SecureLinkService
	shortSvc    *ShortLinkService
	ctx         context.Context
	storageRoot string
}

func setupServiceTest(t *testing.T) *serviceTestEnv {
	t.Helper()

	db, cfg, cleanup := testutil.SetupTest(t)
	t.Cleanup(cleanup)

	blobs, err := storage.NewLocalStore(cfg.StoragePath, testBaseURL, []byte("blob-signing-secret"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	env := &serviceTestEnv{
		files:       repository.NewFileRepository(db),
		grants:      repository.NewGrantRepository(db),
		links:       repository.NewSecureLinkRepository(db),
		mappings:    repository.NewLinkMappingRepository(db),
		requests:    repository.NewAccessRequestRepository(db),
		blobs:       blobs,
		linkTokens:  auth.NewTokenManager("link-token-secret"),
		ctx:         context.Background(),
		storageRoot: cfg.StoragePath,
	}
	env.access = NewAccessResolver(env.files, env.grants)
	env.fileSvc = NewFileService(env.files, env.access, blobs, 10*1024*1024)
	env.grantSvc = NewGrantService(env.grants, env.requests, env.files, env.access)
	env.secureSvc = NewSecureLinkService(env.links, env.files, env.access, blobs, testBaseURL)
	env.shortSvc = NewShortLinkService(env.mappings, env.files, blobs, env.linkTokens, testBaseURL, 5*time.Minute, time.Minute)
	return env
}

func (env *serviceTestEnv) upload(t *testing.T, ownerID, name, content string) *models.File {
	t.Helper()
	file, err := env.fileSvc.Upload(env.ctx, &UploadRequest{
		OwnerID:  ownerID,
		Filename: name,
		Size:     int64(len(content)),
		Content:  strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return file
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }
