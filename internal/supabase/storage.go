package supabase

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"
)

// StorageClient stores manual job card uploads (scanned paper cards, PDFs).
type StorageClient struct {
	client  *Client
	bucket  string
	baseURL string
}

func NewStorageClient(client *Client, bucket string) *StorageClient {
	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(client.Config.SupabaseURL, "/"),
	}
}

// UploadManualFile stores data under manual/{engineer_id}/{date}/{uuid}{ext}
// and returns the storage path and public URL.
func (s *StorageClient) UploadManualFile(engineerID, filename, contentType string, data []byte) (string, string, error) {
	storagePath := ManualFilePath(engineerID, filename, time.Now().UTC())

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upsert := false
	_, err := s.client.Supabase().Storage.UploadFile(s.bucket, storagePath, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload file: %w", err)
	}

	return storagePath, s.GetPublicURL(storagePath), nil
}

func (s *StorageClient) GetPublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, storagePath)
}

func (s *StorageClient) DeleteFile(storagePath string) error {
	_, err := s.client.Supabase().Storage.RemoveFile(s.bucket, []string{storagePath})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func ManualFilePath(engineerID, filename string, at time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("manual/%s/%s/%s%s", engineerID, at.Format("2006-01-02"), uuid.NewString(), ext)
}
