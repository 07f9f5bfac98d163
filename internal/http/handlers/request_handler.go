// README: Blood request lifecycle handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lifeline/internal/modules/matching"
	"lifeline/internal/modules/request"
	"lifeline/internal/types"
)

type RequestHandler struct {
	requests *request.Service
}

func NewRequestHandler(svc *request.Service) *RequestHandler {
	return &RequestHandler{requests: svc}
}

type createRequestReq struct {
	RequesterID string   `json:"requester_id" binding:"required"`
	BloodGroup  string   `json:"blood_group" binding:"required,bloodgroup"`
	Lat         *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng         *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
	Units       int      `json:"units" binding:"required,min=1"`
	Urgency     string   `json:"urgency" binding:"omitempty,oneof=normal urgent critical"`
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.requests.Create(c.Request.Context(), request.CreateCommand{
		RequesterID: types.ID(req.RequesterID),
		Group:       matching.BloodGroup(req.BloodGroup),
		Location:    types.Point{Lat: *req.Lat, Lng: *req.Lng},
		Units:       req.Units,
		Urgency:     request.Urgency(req.Urgency),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request_id": id, "status": request.StatusSubmitted})
}

func (h *RequestHandler) Get(c *gin.Context) {
	id := types.ID(c.Param("id"))
	r, err := h.requests.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	assignments, err := h.requests.Assignments(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": r, "assignments": assignments})
}

type actorReq struct {
	ActorID string `json:"actor_id" binding:"required"`
}

func (h *RequestHandler) Approve(c *gin.Context) {
	var req actorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	err := h.requests.Approve(c.Request.Context(), request.ApproveCommand{
		RequestID: types.ID(c.Param("id")),
		ActorID:   types.ID(req.ActorID),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": request.StatusApproved})
}

type assignVolunteerReq struct {
	VolunteerID string `json:"volunteer_id" binding:"required"`
	AssignedBy  string `json:"assigned_by" binding:"required"`
}

func (h *RequestHandler) AssignVolunteer(c *gin.Context) {
	var req assignVolunteerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.requests.AssignVolunteer(c.Request.Context(), request.AssignVolunteerCommand{
		RequestID:   types.ID(c.Param("id")),
		VolunteerID: types.ID(req.VolunteerID),
		AssignedBy:  types.ID(req.AssignedBy),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assignment": a})
}

type assignDonorReq struct {
	DonorID    string `json:"donor_id" binding:"required"`
	AssignedBy string `json:"assigned_by" binding:"required"`
}

func (h *RequestHandler) AssignDonor(c *gin.Context) {
	var req assignDonorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.requests.AssignDonor(c.Request.Context(), request.AssignDonorCommand{
		RequestID:  types.ID(c.Param("id")),
		DonorID:    types.ID(req.DonorID),
		AssignedBy: types.ID(req.AssignedBy),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assignment": a})
}

type respondReq struct {
	Decision string  `json:"decision" binding:"required,oneof=accepted rejected"`
	Note     *string `json:"note"`
}

func (h *RequestHandler) Respond(c *gin.Context) {
	var req respondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.requests.Respond(c.Request.Context(), request.RespondCommand{
		AssignmentID: types.ID(c.Param("id")),
		Decision:     request.AssignmentStatus(req.Decision),
		Note:         req.Note,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": a})
}

func (h *RequestHandler) CompleteAssignment(c *gin.Context) {
	a, err := h.requests.CompleteAssignment(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": a})
}

func (h *RequestHandler) Start(c *gin.Context) {
	var req actorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.requests.Start(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.ActorID)); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": request.StatusInProgress})
}

func (h *RequestHandler) Complete(c *gin.Context) {
	var req actorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.requests.Complete(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.ActorID)); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": request.StatusCompleted})
}

type cancelReq struct {
	ActorType string  `json:"actor_type" binding:"required,oneof=requester operator volunteer donor"`
	ActorID   *string `json:"actor_id"`
	Reason    string  `json:"reason"`
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	var req cancelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	cmd := request.CancelCommand{
		RequestID: types.ID(c.Param("id")),
		ActorType: req.ActorType,
		Reason:    req.Reason,
	}
	if req.ActorID != nil {
		id := types.ID(*req.ActorID)
		cmd.ActorID = &id
	}
	if err := h.requests.Cancel(c.Request.Context(), cmd); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": request.StatusCancelled})
}

func (h *RequestHandler) NextCandidate(c *gin.Context) {
	candidate, err := h.requests.NextCandidate(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if candidate == nil {
		c.JSON(http.StatusOK, gin.H{"candidate": nil, "exhausted": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidate": candidate})
}
