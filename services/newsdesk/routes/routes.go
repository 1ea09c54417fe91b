// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/Newswire/services/newsdesk/handlers"
)

func SetupRoutes(router *gin.Engine, chat *handlers.ChatHandler,
	articles *handlers.ArticleHandler, digests *handlers.DigestHandler) {

	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat", chat.HandleChat)
		v1.POST("/chat/stream", chat.HandleChatStream)
		v1.GET("/conversations", chat.HandleListConversations)
		v1.GET("/conversations/:id", chat.HandleGetConversation)
		v1.POST("/feedback", chat.HandleFeedback)

		v1.POST("/articles", articles.HandleIngestArticle)
		v1.GET("/articles", articles.HandleListArticles)
		v1.GET("/articles/:id", articles.HandleGetArticle)
		v1.GET("/stats", articles.HandleStats)

		v1.GET("/digest", digests.HandleGetDigest)
		// Story summarization routes
		stories := v1.Group("/stories")
		{
			stories.GET("", digests.HandleListStories)
			stories.POST("/summarize", digests.HandleSummarizeAll)
			stories.POST("/:id/summarize", digests.HandleSummarizeStory)
		}
	}
}
