// Package routes wires the HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/openpress/cptables/internal/handler"
	"github.com/openpress/cptables/internal/middleware"
	"github.com/openpress/cptables/pkg/jwt"
)

// Setup configures all API routes.
func Setup(
	router *gin.Engine,
	postHandler *handler.PostHandler,
	adminHandler *handler.AdminHandler,
	jwtManager *jwt.Manager,
) {
	api := router.Group("/api/v1")

	// Content, keyed by post type. Reads are public, writes need a token.
	posts := api.Group("/types/:type/posts")
	{
		posts.GET("", postHandler.List)
		posts.GET("/:id", postHandler.Get)
		posts.POST("", middleware.JWTAuth(jwtManager), postHandler.Create)
		posts.PUT("/:id", middleware.JWTAuth(jwtManager), postHandler.Update)
		posts.DELETE("/:id", middleware.JWTAuth(jwtManager), postHandler.Delete)

		posts.GET("/:id/meta", postHandler.ListMeta)
		posts.PUT("/:id/meta/:key", middleware.JWTAuth(jwtManager), postHandler.SetMeta)
		posts.DELETE("/:id/meta/:key", middleware.JWTAuth(jwtManager), postHandler.DeleteMeta)
	}

	// Storage administration.
	admin := api.Group("/admin/cpt", middleware.JWTAuth(jwtManager), middleware.RequireAdmin())
	{
		admin.GET("/tables", adminHandler.ListTables)
		admin.POST("/sweep", adminHandler.Sweep)
		admin.POST("/:type/toggle", adminHandler.ToggleType)
		admin.GET("/:type/status", adminHandler.GetStatus)
	}
}
