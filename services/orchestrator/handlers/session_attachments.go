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
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianChat/services/attachments"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
)

// maxAttachmentBytes caps ephemeral attachment uploads at 20 MiB.
const maxAttachmentBytes = 20 << 20

// AttachmentAPI is the session-attachment seam. Satisfied by
// *attachments.Handler.
type AttachmentAPI interface {
	Save(userID int, filename string, content []byte) (*attachments.Info, error)
	Remove(userID int, attachmentID string) (bool, error)
	GetContent(ctx context.Context, userID int, attachmentID string) (text, filename, mimeType string, err error)
}

// UploadSessionAttachment stores the file and returns its extracted
// text up front so the client can show a preview and a token estimate.
func UploadSessionAttachment(atts AttachmentAPI, counter *llm.Counter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if header.Size > maxAttachmentBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
			return
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}
		defer f.Close()
		content, err := io.ReadAll(io.LimitReader(f, maxAttachmentBytes+1))
		if err != nil || len(content) > maxAttachmentBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}

		user := middleware.CurrentUser(c)
		info, err := atts.Save(user.ID, header.Filename, content)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorBody})
			return
		}
		text, _, _, err := atts.GetContent(c.Request.Context(), user.ID, info.AttachmentID)
		if err != nil {
			// The file is stored but unreadable by the extractor; drop it
			// rather than leave an attachment the pipeline cannot use.
			atts.Remove(user.ID, info.AttachmentID)
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not extract text from file"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"attachmentId":   info.AttachmentID,
			"extractedText":  text,
			"tokenCount":     counter.CountText(c.Request.Context(), "gpt-4o", text),
			"processingTime": time.Since(start).Seconds(),
		})
	}
}

// RemoveSessionAttachment drops one attachment. Removing an unknown id
// is not an error.
func RemoveSessionAttachment(atts AttachmentAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		removed, err := atts.Remove(user.ID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}
