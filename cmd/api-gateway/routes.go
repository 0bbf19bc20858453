package main

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/elearning-api/internal/handler"
	internalmiddleware "github.com/noah-isme/elearning-api/internal/middleware"
	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/pkg/config"
	timeoutmiddleware "github.com/noah-isme/elearning-api/pkg/middleware/timeout"
)

type routeHandlers struct {
	courses      *handler.CourseHandler
	enrollments  *handler.EnrollmentHandler
	progressions *handler.ProgressionHandler
	certificates *handler.CertificateHandler
	metrics      *handler.MetricsHandler
}

func registerRoutes(r *gin.Engine, cfg *config.Config, auth internalmiddleware.Authenticator, h routeHandlers) {
	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.Use(timeoutmiddleware.New(cfg.RequestTimeout))

	api.GET("/courses", h.courses.List)
	api.GET("/courses/:id", h.courses.Get)
	api.GET("/certificates/download/:token", h.certificates.Download)

	authed := api.Group("")
	authed.Use(internalmiddleware.JWT(auth))

	staff := internalmiddleware.RequireRoles(models.RoleInstructor, models.RoleAdmin)
	admin := internalmiddleware.RequireRoles(models.RoleAdmin)

	authed.POST("/courses", staff, h.courses.Create)
	authed.PUT("/courses/:id", staff, h.courses.Update)
	authed.PATCH("/courses/:id/publication", admin, h.courses.SetPublication)
	authed.PATCH("/courses/:id/approval", admin, h.courses.SetApproval)

	authed.POST("/enrollments", h.enrollments.Create)
	authed.GET("/enrollments/me", h.enrollments.ListMine)
	authed.PATCH("/enrollments/:id/status", h.enrollments.UpdateStatus)
	authed.DELETE("/enrollments/:id", h.enrollments.Delete)

	authed.GET("/progressions", admin, h.progressions.List)
	authed.GET("/progressions/export", admin, h.progressions.Export)
	authed.GET("/progressions/me", h.progressions.ListMine)
	authed.GET("/progressions/me/global", h.progressions.Global)
	authed.GET("/progressions/courses/:courseId", h.progressions.Get)
	authed.PUT("/progressions/courses/:courseId", h.progressions.Update)

	authed.GET("/certificates/me", h.certificates.ListMine)
	authed.GET("/certificates/:id/pdf", h.certificates.PDF)
	authed.GET("/certificates/:id/link", h.certificates.Link)
	authed.GET("/certificates/:id/integrity", admin, h.certificates.Integrity)
	authed.POST("/certificates/reconcile", admin, h.certificates.Reconcile)

	authed.GET("/metrics/summary", admin, h.metrics.Summary)
}
