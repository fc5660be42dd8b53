package repository

import (
	"context"
	"fmt"

	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
)

const FilesCollection = "gf_files"

// FileRepo stores upload bytes in a blob bucket and their metadata in a collection.
type FileRepo struct {
	src    db.Source
	bucket string
}

func NewFileRepo(src db.Source, bucket string) *FileRepo {
	return &FileRepo{src: src, bucket: bucket}
}

func (r *FileRepo) Bucket() string { return r.bucket }

func (r *FileRepo) EnsureIndexes(ctx context.Context) error {
	c := r.src.Get()
	if err := c.CreateUniqueIndex(ctx, FilesCollection, "key"); err != nil {
		return err
	}
	return c.CreateCompositeIndex(ctx, FilesCollection, []string{"entityId", "applicationId"})
}

func (r *FileRepo) EnsureBucket(ctx context.Context) error {
	return r.src.Get().CreateBucket(ctx, r.bucket)
}

func (r *FileRepo) PutBlob(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	if _, err := r.src.Get().PutObject(ctx, r.bucket, key, data, contentType, metadata); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// GetBlob returns the object bytes and its content type.
func (r *FileRepo) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	data, meta, err := r.src.Get().GetObject(ctx, r.bucket, key)
	if err != nil {
		if oxidb.IsNotFound(err) {
			return nil, "", fmt.Errorf("get object %s: %w", key, ErrNotFound)
		}
		return nil, "", fmt.Errorf("get object %s: %w", key, err)
	}
	ct, _ := meta["content_type"].(string)
	return data, ct, nil
}

func (r *FileRepo) DeleteBlob(ctx context.Context, key string) error {
	if err := r.src.Get().DeleteObject(ctx, r.bucket, key); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Create records metadata for a stored object, replacing an earlier record of the same key.
func (r *FileRepo) Create(ctx context.Context, f *models.StoredFile) error {
	doc, err := toDoc(f)
	if err != nil {
		return err
	}
	c := r.src.Get()
	if _, err := c.Delete(ctx, FilesCollection, map[string]any{"key": f.Key}); err != nil {
		return fmt.Errorf("record file %s: %w", f.Key, err)
	}
	res, err := c.Insert(ctx, FilesCollection, doc)
	if err != nil {
		return fmt.Errorf("record file %s: %w", f.Key, translate(err))
	}
	f.ID = extractID(res)
	return nil
}

func (r *FileRepo) FindByKey(ctx context.Context, key string) (*models.StoredFile, error) {
	f, err := findOne[models.StoredFile](ctx, r.src.Get(), FilesCollection, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("find file %s: %w", key, err)
	}
	return f, nil
}

// FindByApplication lists the files uploaded for an application, newest first.
func (r *FileRepo) FindByApplication(ctx context.Context, entityID, applicationID string) ([]models.StoredFile, error) {
	out, err := find[models.StoredFile](ctx, r.src.Get(), FilesCollection,
		map[string]any{"entityId": entityID, "applicationId": applicationID},
		&oxidb.FindOptions{Sort: map[string]any{"createdAt": -1}})
	if err != nil {
		return nil, fmt.Errorf("find files of %s/%s: %w", entityID, applicationID, err)
	}
	return out, nil
}

func (r *FileRepo) DeleteRecord(ctx context.Context, key string) error {
	if _, err := r.src.Get().Delete(ctx, FilesCollection, map[string]any{"key": key}); err != nil {
		return fmt.Errorf("delete file record %s: %w", key, err)
	}
	return nil
}
