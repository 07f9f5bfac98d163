// README: Route and live-tracking handlers.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"lifeline/internal/modules/route"
	"lifeline/internal/modules/tracking"
	"lifeline/internal/types"
)

type RouteHandler struct {
	routes   *route.Service
	tracking *tracking.Service
}

func NewRouteHandler(routes *route.Service, tracking *tracking.Service) *RouteHandler {
	return &RouteHandler{routes: routes, tracking: tracking}
}

// Coordinates bind through pointers: "required" on a plain float rejects a
// legitimate 0 (equator, prime meridian), while a nil pointer still catches a
// missing field.
type pointReq struct {
	Lat *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
}

func (p pointReq) toPoint() types.Point {
	return types.Point{Lat: *p.Lat, Lng: *p.Lng}
}

type createRouteReq struct {
	RequestID    string     `json:"request_id" binding:"required"`
	AssignmentID string     `json:"assignment_id" binding:"required"`
	Origin       pointReq   `json:"origin" binding:"required"`
	Destination  pointReq   `json:"destination" binding:"required"`
	Waypoints    []pointReq `json:"waypoints" binding:"omitempty,max=10,dive"`
}

func (h *RouteHandler) Create(c *gin.Context) {
	var req createRouteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	waypoints := make([]types.Point, len(req.Waypoints))
	for i, w := range req.Waypoints {
		waypoints[i] = w.toPoint()
	}
	r, err := h.routes.CreateRoute(c.Request.Context(), route.CreateCommand{
		RequestID:    types.ID(req.RequestID),
		AssignmentID: types.ID(req.AssignmentID),
		Origin:       req.Origin.toPoint(),
		Destination:  req.Destination.toPoint(),
		Waypoints:    waypoints,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"route": r})
}

func (h *RouteHandler) Get(c *gin.Context) {
	r, err := h.routes.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"route": r})
}

type optimizeReq struct {
	Start pointReq `json:"start" binding:"required"`
	Stops []struct {
		DonorID  string   `json:"donor_id" binding:"required"`
		Position pointReq `json:"position" binding:"required"`
	} `json:"stops" binding:"required,min=2,max=10,dive"`
	Destination pointReq `json:"destination" binding:"required"`
}

func (h *RouteHandler) Optimize(c *gin.Context) {
	var req optimizeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	stops := make([]route.Stop, len(req.Stops))
	for i, s := range req.Stops {
		stops[i] = route.Stop{DonorID: types.ID(s.DonorID), Position: s.Position.toPoint()}
	}
	plan, err := h.routes.OptimizeMultiStop(c.Request.Context(), route.OptimizeCommand{
		Start:       req.Start.toPoint(),
		Stops:       stops,
		Destination: req.Destination.toPoint(),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

func (h *RouteHandler) ProposeReroute(c *gin.Context) {
	var req pointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	proposal, err := h.routes.ProposeReroute(c.Request.Context(), types.ID(c.Param("id")), req.toPoint())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": proposal})
}

func (h *RouteHandler) AcceptReroute(c *gin.Context) {
	var req pointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	r, err := h.routes.AcceptReroute(c.Request.Context(), types.ID(c.Param("id")), req.toPoint())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"route": r})
}

type shareReq struct {
	TTLMinutes int `json:"ttl_minutes" binding:"required,min=1,max=1440"`
}

func (h *RouteHandler) Share(c *gin.Context) {
	var req shareReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := h.routes.IssueShareToken(c.Request.Context(),
		types.ID(c.Param("id")), time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": grant.Token, "expires_at": grant.ExpiresAt})
}

func (h *RouteHandler) Shared(c *gin.Context) {
	r, err := h.routes.ResolveShareToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"route": r})
}

type ingestReq struct {
	Lat        *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng        *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
	HeadingDeg *float64 `json:"heading_deg"`
	SpeedKmh   *float64 `json:"speed_kmh"`
	AccuracyM  *float64 `json:"accuracy_m"`
}

func (h *RouteHandler) IngestPosition(c *gin.Context) {
	var req ingestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.tracking.IngestPosition(c.Request.Context(), tracking.IngestCommand{
		RouteID:    types.ID(c.Param("id")),
		Position:   types.Point{Lat: *req.Lat, Lng: *req.Lng},
		HeadingDeg: req.HeadingDeg,
		SpeedKmh:   req.SpeedKmh,
		AccuracyM:  req.AccuracyM,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"update": u})
}

func (h *RouteHandler) Samples(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	samples, err := h.tracking.History(c.Request.Context(), types.ID(c.Param("id")), limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

func (h *RouteHandler) Complete(c *gin.Context) {
	if err := h.tracking.Complete(c.Request.Context(), types.ID(c.Param("id"))); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": route.StatusCompleted})
}
