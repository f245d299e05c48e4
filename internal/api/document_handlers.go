package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	database "github.com/Armour007/grc-assistant/internal"
	"github.com/Armour007/grc-assistant/internal/objectstore"
	"github.com/Armour007/grc-assistant/internal/store"
)

const (
	maxUploadFiles  = 10
	maxUploadMemory = 32 << 20
	cleanupTimeout  = 30 * time.Second
)

func (s *Server) ListDocuments(c *gin.Context) {
	docs, err := s.store.ListDocuments(c.Request.Context())
	if err != nil {
		s.log.Error("fetching documents failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch documents", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, docs)
}

// ViewDocument streams the stored file so the browser can render it inline.
func (s *Server) ViewDocument(c *gin.Context) {
	doc, ok := s.lookupDocument(c)
	if !ok {
		return
	}
	start := time.Now()
	body, err := s.objects.Open(c.Request.Context(), doc.StorageKey)
	recordStorageOp("get", start, err)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Document not found"})
			return
		}
		s.log.Error("opening document failed", zap.String("key", doc.StorageKey), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to view document"})
		return
	}
	defer body.Close()

	c.Header("Content-Type", doc.FileType)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.FileName))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		s.log.Warn("streaming document interrupted", zap.String("id", doc.ID.String()), zap.Error(err))
	}
}

// UploadDocuments stores every file under the "files" form field and inserts
// their rows in one transaction. On failure every object already written is
// removed again.
func (s *Server) UploadDocuments(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "User not authenticated"})
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid multipart form", "error": err.Error()})
		return
	}
	var files []*multipart.FileHeader
	if c.Request.MultipartForm != nil {
		files = c.Request.MultipartForm.File["files"]
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No files uploaded."})
		return
	}
	if len(files) > maxUploadFiles {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("Too many files. At most %d files can be uploaded at once.", maxUploadFiles)})
		return
	}

	ctx := c.Request.Context()
	var uploaded []string
	rows := make([]store.NewDocument, 0, len(files))
	for _, fh := range files {
		key := "documents/" + uuid.NewString() + filepath.Ext(fh.Filename)
		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := s.putFile(ctx, key, fh, contentType); err != nil {
			s.failUpload(c, uploaded, err)
			return
		}
		uploaded = append(uploaded, key)
		rows = append(rows, store.NewDocument{
			FileName:     fh.Filename,
			FileType:     contentType,
			FileSize:     fh.Size,
			StorageKey:   key,
			UploadedByID: uid,
		})
	}

	docs, err := s.store.CreateDocuments(ctx, rows)
	if err != nil {
		s.failUpload(c, uploaded, err)
		return
	}
	documentUploadsTotal.WithLabelValues("success").Add(float64(len(docs)))
	s.log.Info("documents uploaded", zap.Int("count", len(docs)), zap.String("userID", uid.String()))
	c.JSON(http.StatusCreated, docs)
}

func (s *Server) putFile(ctx context.Context, key string, fh *multipart.FileHeader, contentType string) error {
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	start := time.Now()
	err = s.objects.Upload(ctx, key, f, fh.Size, contentType)
	recordStorageOp("put", start, err)
	return err
}

// failUpload removes already stored objects. Cleanup errors are logged only.
func (s *Server) failUpload(c *gin.Context, keys []string, cause error) {
	documentUploadsTotal.WithLabelValues("error").Inc()
	s.log.Error("uploading documents failed", zap.Int("cleanup", len(keys)), zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), cleanupTimeout)
	defer cancel()
	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil {
			s.log.Warn("cleanup of uploaded object failed", zap.String("key", key), zap.Error(err))
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to upload documents", "error": cause.Error()})
}

// DeleteDocument removes the stored object first, then the row.
func (s *Server) DeleteDocument(c *gin.Context) {
	doc, ok := s.lookupDocument(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	start := time.Now()
	err := s.objects.Delete(ctx, doc.StorageKey)
	recordStorageOp("delete", start, err)
	if err != nil {
		s.log.Error("deleting stored object failed", zap.String("key", doc.StorageKey), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to delete document"})
		return
	}
	if err := s.store.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Error("deleting document row failed", zap.String("id", doc.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to delete document"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lookupDocument(c *gin.Context) (database.Document, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Document not found"})
		return database.Document{}, false
	}
	doc, err := s.store.GetDocument(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Document not found"})
			return database.Document{}, false
		}
		s.log.Error("fetching document failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch document"})
		return database.Document{}, false
	}
	return doc, true
}
