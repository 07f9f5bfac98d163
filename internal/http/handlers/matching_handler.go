// README: Candidate ranking and position handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lifeline/internal/modules/matching"
	"lifeline/internal/types"
)

type MatchingHandler struct {
	matching *matching.Service
}

func NewMatchingHandler(svc *matching.Service) *MatchingHandler {
	return &MatchingHandler{matching: svc}
}

type findDonorsReq struct {
	BloodGroup string   `json:"blood_group" binding:"required,bloodgroup"`
	Lat        *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng        *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
	Units      int      `json:"units" binding:"omitempty,min=1"`
	Exclude    []string `json:"exclude"`
}

func (h *MatchingHandler) FindDonors(c *gin.Context) {
	var req findDonorsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	need := matching.Need{
		Group:    matching.BloodGroup(req.BloodGroup),
		Location: types.Point{Lat: *req.Lat, Lng: *req.Lng},
		Units:    req.Units,
	}
	ranked, err := h.matching.FindDonors(c.Request.Context(), need, toIDs(req.Exclude))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"donors": ranked})
}

type findVolunteersReq struct {
	Lat     *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng     *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
	Exclude []string `json:"exclude"`
}

func (h *MatchingHandler) FindVolunteers(c *gin.Context) {
	var req findVolunteersReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	need := matching.Need{Location: types.Point{Lat: *req.Lat, Lng: *req.Lng}}
	ranked, err := h.matching.FindVolunteers(c.Request.Context(), need, toIDs(req.Exclude))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"volunteers": ranked})
}

type positionReq struct {
	Lat *float64 `json:"lat" binding:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" binding:"required,gte=-180,lte=180"`
}

func (h *MatchingHandler) UpdateDonorPosition(c *gin.Context) {
	var req positionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	err := h.matching.UpdateDonorPosition(c.Request.Context(),
		types.ID(c.Param("id")), types.Point{Lat: *req.Lat, Lng: *req.Lng})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MatchingHandler) UpdateVolunteerPosition(c *gin.Context) {
	var req positionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	err := h.matching.UpdateVolunteerPosition(c.Request.Context(),
		types.ID(c.Param("id")), types.Point{Lat: *req.Lat, Lng: *req.Lng})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toIDs(raw []string) []types.ID {
	if len(raw) == 0 {
		return nil
	}
	ids := make([]types.ID, len(raw))
	for i, s := range raw {
		ids[i] = types.ID(s)
	}
	return ids
}
