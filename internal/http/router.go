// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lifeline/internal/http/handlers"
	"lifeline/internal/http/middleware"
	"lifeline/internal/modules/matching"
	"lifeline/internal/modules/request"
	"lifeline/internal/modules/route"
	"lifeline/internal/modules/tracking"
	"lifeline/internal/notify"
)

type RouterDeps struct {
	Requests *request.Service
	Matching *matching.Service
	Routes   *route.Service
	Tracking *tracking.Service
	Tokens   *notify.PGTokenStore
	Log      *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	handlers.RegisterValidators()

	engine := gin.New()
	engine.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	requestHandler := handlers.NewRequestHandler(deps.Requests)
	matchingHandler := handlers.NewMatchingHandler(deps.Matching)
	routeHandler := handlers.NewRouteHandler(deps.Routes, deps.Tracking)
	tokenHandler := handlers.NewTokenHandler(deps.Tokens)

	api := engine.Group("/api")
	{
		api.POST("/requests", requestHandler.Create)
		api.GET("/requests/:id", requestHandler.Get)
		api.POST("/requests/:id/approve", requestHandler.Approve)
		api.POST("/requests/:id/volunteer", requestHandler.AssignVolunteer)
		api.POST("/requests/:id/donors", requestHandler.AssignDonor)
		api.POST("/requests/:id/start", requestHandler.Start)
		api.POST("/requests/:id/complete", requestHandler.Complete)
		api.POST("/requests/:id/cancel", requestHandler.Cancel)
		api.GET("/requests/:id/next-candidate", requestHandler.NextCandidate)

		api.POST("/assignments/:id/respond", requestHandler.Respond)
		api.POST("/assignments/:id/complete", requestHandler.CompleteAssignment)

		api.POST("/matching/donors", matchingHandler.FindDonors)
		api.POST("/matching/volunteers", matchingHandler.FindVolunteers)
		api.PUT("/donors/:id/location", matchingHandler.UpdateDonorPosition)
		api.PUT("/volunteers/:id/location", matchingHandler.UpdateVolunteerPosition)

		api.POST("/routes", routeHandler.Create)
		api.GET("/routes/:id", routeHandler.Get)
		api.POST("/routes/optimize", routeHandler.Optimize)
		api.POST("/routes/:id/reroute", routeHandler.ProposeReroute)
		api.POST("/routes/:id/reroute/accept", routeHandler.AcceptReroute)
		api.POST("/routes/:id/share", routeHandler.Share)
		api.GET("/shared/:token", routeHandler.Shared)
		api.POST("/routes/:id/position", routeHandler.IngestPosition)
		api.GET("/routes/:id/samples", routeHandler.Samples)
		api.POST("/routes/:id/complete", routeHandler.Complete)

		api.POST("/users/:id/push-token", tokenHandler.Register)
	}

	engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return engine
}
