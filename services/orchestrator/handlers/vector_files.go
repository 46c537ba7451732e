// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianChat/services/ingest"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
)

// maxUploadBytes caps indexed-document uploads at 50 MiB.
const maxUploadBytes = 50 << 20

// FileAPI is the indexed-document manager seam. Satisfied by
// *ingest.Manager.
type FileAPI interface {
	Upload(ctx context.Context, userID, systemMessageID int, filename, mime string, content []byte) (*ingest.FileRecord, error)
	Get(ctx context.Context, userID, systemMessageID int, fileID string) (*ingest.FileRecord, error)
	List(ctx context.Context, userID, systemMessageID int) ([]ingest.FileRecord, error)
	Delete(ctx context.Context, userID, systemMessageID int, fileID string) (*ingest.DeleteDetails, error)
}

// fileSystemMessageID reads the system_message_id the per-file routes
// carry as a query parameter.
func fileSystemMessageID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Query("system_message_id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "system_message_id query parameter is required"})
		return 0, false
	}
	return id, true
}

// UploadVectorFile ingests a document: save, extract, chunk, embed,
// upsert. Form fields: file, system_message_id.
func UploadVectorFile(files FileAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		smID, err := strconv.Atoi(c.PostForm("system_message_id"))
		if err != nil || smID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "system_message_id is required"})
			return
		}
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if header.Size > maxUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
			return
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}
		defer f.Close()
		content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
		if err != nil || len(content) > maxUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}

		user := middleware.CurrentUser(c)
		mime := header.Header.Get("Content-Type")
		record, err := files.Upload(c.Request.Context(), user.ID, smID, header.Filename, mime, content)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorBody})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// ListVectorFiles returns file metadata for one system message.
func ListVectorFiles(files FileAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		smID, ok := pathID(c, "system_message_id")
		if !ok {
			return
		}
		user := middleware.CurrentUser(c)
		records, err := files.List(c.Request.Context(), user.ID, smID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorBody})
			return
		}
		c.JSON(http.StatusOK, gin.H{"files": records})
	}
}

// ViewOriginalFile renders a minimal HTML page embedding the raw file,
// so browsers get an inline viewer for PDFs.
func ViewOriginalFile(files FileAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		smID, ok := fileSystemMessageID(c)
		if !ok {
			return
		}
		fileID := c.Param("id")
		user := middleware.CurrentUser(c)
		record, err := files.Get(c.Request.Context(), user.ID, smID, fileID)
		if err != nil {
			storeError(c, err)
			return
		}
		serveURL := fmt.Sprintf("/api/v1/vector-files/%s/serve?system_message_id=%d", record.ID, smID)
		page := fmt.Sprintf(
			`<!DOCTYPE html><html><head><title>%s</title></head><body style="margin:0">`+
				`<embed src=%q type=%q width="100%%" height="100%%"/></body></html>`,
			html.EscapeString(record.Filename), serveURL, record.Mime)
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
	}
}

// ServeOriginalFile streams the stored bytes with the stored mime.
func ServeOriginalFile(files FileAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		smID, ok := fileSystemMessageID(c)
		if !ok {
			return
		}
		user := middleware.CurrentUser(c)
		record, err := files.Get(c.Request.Context(), user.ID, smID, c.Param("id"))
		if err != nil {
			storeError(c, err)
			return
		}
		c.Header("Content-Type", record.Mime)
		c.File(record.FilePath)
	}
}

// ServeProcessedText returns the extracted text artifact.
func ServeProcessedText(files FileAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		smID, ok := fileSystemMessageID(c)
		if !ok {
			return
		}
		user := middleware.CurrentUser(c)
		record, err := files.Get(c.Request.Context(), user.ID, smID, c.Param("id"))
		if err != nil {
			storeError(c, err)
			return
		}
		if record.ProcessedPath == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no processed text for this file"})
			return
		}
		text, err := os.ReadFile(record.ProcessedPath)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "processed text unavailable"})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", text)
	}
}

// DeleteVectorFile removes vectors, disk artifacts, and the DB row,
// reporting per-step results.
func DeleteVectorFile(files FileAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		smID, ok := fileSystemMessageID(c)
		if !ok {
			return
		}
		user := middleware.CurrentUser(c)
		details, err := files.Delete(c.Request.Context(), user.ID, smID, c.Param("id"))
		if err != nil {
			storeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true, "details": details})
	}
}
