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
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleScraper is the legacy scraper endpoint. The standalone scraper
// was folded into the web-search subsystem; the route is kept so old
// clients get a clear answer instead of a 404.
func HandleScraper(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "the scraper endpoint is no longer available; use web search"})
}
