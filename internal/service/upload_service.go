package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qasim313/Unbrandit/internal/model"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UploadService stores user files and hands back proxy references only
type UploadService struct {
	resolver *BlobResolver
}

func NewUploadService(resolver *BlobResolver) *UploadService {
	return &UploadService{resolver: resolver}
}

// Upload stores a file under uploads/<user>/<uuid>-<name>
func (s *UploadService) Upload(ctx context.Context, userID, fileName, contentType string, size int64, file io.Reader) (*model.UploadResponse, error) {
	id := uuid.New().String()
	name := sanitizeName(fileName)
	key := fmt.Sprintf("uploads/%s/%s-%s", sanitizeName(userID), id, name)

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ref, err := s.resolver.Put(ctx, key, file, contentType)
	if err != nil {
		return nil, err
	}

	return &model.UploadResponse{
		ID:          id,
		URL:         ref,
		FileName:    name,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeKeyChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}
