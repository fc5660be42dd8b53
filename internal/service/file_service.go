package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/catalyzator-io/catalyzator-sub000/internal/config"
	"github.com/catalyzator-io/catalyzator-sub000/internal/docpath"
	"github.com/catalyzator-io/catalyzator-sub000/internal/metrics"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
)

type FileService struct {
	files    *repository.FileRepo
	users    *repository.UserRepo
	entities *EntityService
	cfg      config.StorageConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewFileService(files *repository.FileRepo, users *repository.UserRepo, entities *EntityService, cfg config.StorageConfig, m *metrics.Metrics, logger *zap.Logger) *FileService {
	return &FileService{files: files, users: users, entities: entities, cfg: cfg, metrics: m, logger: logger, now: time.Now}
}

// Upload is one file of a multi-file application upload.
type Upload struct {
	EntityID      string
	ApplicationID string
	Section       string
	FileName      string
	ContentType   string
	Data          []byte
}

// UploadApplicationFile stores a file under
// applications/{uid}/{entityId}/{applicationId}/{section}/{name}. A file of
// the same name in the same section is replaced.
func (s *FileService) UploadApplicationFile(ctx context.Context, uid string, u Upload) (*models.FileRef, error) {
	if _, err := s.entities.Get(ctx, uid, u.EntityID); err != nil {
		return nil, err
	}
	key, err := docpath.ApplicationFile(uid, u.EntityID, u.ApplicationID, u.Section, u.FileName)
	if err != nil {
		return nil, invalid("%v", err)
	}
	f, err := s.store(ctx, "application", uid, key, u)
	if err != nil {
		return nil, err
	}
	ref := f.Ref()
	return &ref, nil
}

// UploadProfilePicture stores an image under users/{uid}/profile and points the user's photo URL at it.
func (s *FileService) UploadProfilePicture(ctx context.Context, uid, fileName, contentType string, data []byte) (*models.FileRef, error) {
	if contentType == "" {
		contentType = detectContentType(fileName)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, invalid("profile picture must be an image, got %s", contentType)
	}
	key, err := docpath.ProfileFile(uid, fileName)
	if err != nil {
		return nil, invalid("%v", err)
	}
	f, err := s.store(ctx, "profile", uid, key, Upload{FileName: fileName, ContentType: contentType, Data: data})
	if err != nil {
		return nil, err
	}
	url := f.URL
	if err := s.users.UpdateProfile(ctx, uid, repository.ProfileUpdate{PhotoURL: &url}, timestamp(s.now)); err != nil {
		s.logger.Error("set photo url failed", zap.String("uid", uid), zap.Error(err))
		return nil, err
	}
	ref := f.Ref()
	return &ref, nil
}

// UploadMany stores uploads with bounded parallelism. The first failure
// cancels the rest and every file already stored is removed again.
func (s *FileService) UploadMany(ctx context.Context, uid string, uploads []Upload) ([]models.FileRef, error) {
	refs := make([]models.FileRef, len(uploads))
	var (
		mu     sync.Mutex
		stored []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)
	for i, u := range uploads {
		i, u := i, u
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ref, err := s.UploadApplicationFile(gctx, uid, u)
			if err != nil {
				return fmt.Errorf("upload %s: %w", u.FileName, err)
			}
			mu.Lock()
			stored = append(stored, ref.Key)
			mu.Unlock()
			refs[i] = *ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.rollback(context.WithoutCancel(ctx), stored)
		return nil, err
	}
	return refs, nil
}

// Open returns a stored object. Application files are readable by members of
// the owning entity, profile pictures by any signed-in user.
func (s *FileService) Open(ctx context.Context, uid, key string) ([]byte, *models.StoredFile, error) {
	f, err := s.files.FindByKey(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if f.EntityID != "" && f.UploadedBy != uid {
		if _, err := s.entities.Get(ctx, uid, f.EntityID); err != nil {
			return nil, nil, err
		}
	}
	data, contentType, err := s.files.GetBlob(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if contentType != "" {
		f.ContentType = contentType
	}
	return data, f, nil
}

// ListForApplication returns the files uploaded for an application.
func (s *FileService) ListForApplication(ctx context.Context, uid, entityID, applicationID string) ([]models.StoredFile, error) {
	if _, err := s.entities.Get(ctx, uid, entityID); err != nil {
		return nil, err
	}
	return s.files.FindByApplication(ctx, entityID, applicationID)
}

func (s *FileService) store(ctx context.Context, kind, uid, key string, u Upload) (*models.StoredFile, error) {
	if len(u.Data) == 0 {
		return nil, invalid("file %s is empty", u.FileName)
	}
	if int64(len(u.Data)) > s.cfg.MaxUploadBytes {
		return nil, invalid("file %s exceeds %d bytes", u.FileName, s.cfg.MaxUploadBytes)
	}
	contentType := u.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = detectContentType(u.FileName)
	}

	err := s.files.PutBlob(ctx, key, u.Data, contentType, map[string]string{"uploadedBy": uid})
	s.metrics.Upload(kind, int64(len(u.Data)), err)
	if err != nil {
		s.logger.Error("store object failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	f := &models.StoredFile{
		Key:           key,
		FileName:      docpath.CleanFileName(u.FileName),
		ContentType:   contentType,
		Size:          int64(len(u.Data)),
		URL:           s.publicURL(key),
		UploadedBy:    uid,
		EntityID:      u.EntityID,
		ApplicationID: u.ApplicationID,
		Section:       u.Section,
		CreatedAt:     timestamp(s.now),
	}
	if err := s.files.Create(ctx, f); err != nil {
		s.logger.Error("record file failed", zap.String("key", key), zap.Error(err))
		if derr := s.files.DeleteBlob(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Warn("remove orphaned object failed", zap.String("key", key), zap.Error(derr))
		}
		return nil, err
	}
	return f, nil
}

func (s *FileService) rollback(ctx context.Context, keys []string) {
	for _, key := range keys {
		err := errors.Join(s.files.DeleteBlob(ctx, key), s.files.DeleteRecord(ctx, key))
		if err != nil {
			s.logger.Warn("rollback upload failed", zap.String("key", key), zap.Error(err))
			continue
		}
		s.logger.Info("rolled back upload", zap.String("key", key))
	}
}

func (s *FileService) publicURL(key string) string {
	return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/" + key
}

func detectContentType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	types := map[string]string{
		".pdf":  "application/pdf",
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".gif":  "image/gif",
		".webp": "image/webp",
		".svg":  "image/svg+xml",
		".doc":  "application/msword",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		".ppt":  "application/vnd.ms-powerpoint",
		".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		".xls":  "application/vnd.ms-excel",
		".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		".csv":  "text/csv",
		".txt":  "text/plain",
		".json": "application/json",
		".zip":  "application/zip",
		".mp4":  "video/mp4",
	}
	if ct, ok := types[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
