package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/coursebuilder/internal/domain/ordering"
	"github.com/yungbote/coursebuilder/internal/http/response"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
	"github.com/yungbote/coursebuilder/internal/services"
)

// RelationSlugs maps URL segments to relation names.
var RelationSlugs = map[string]ordering.RelationName{
	"course-chapters":   ordering.CourseChapter,
	"chapter-lessons":   ordering.ChapterLesson,
	"lesson-activities": ordering.LessonActivity,
}

type CollectionHandler struct {
	log *logger.Logger
	svc services.CollectionService
}

func NewCollectionHandler(log *logger.Logger, svc services.CollectionService) *CollectionHandler {
	return &CollectionHandler{
		log: log.With("handler", "CollectionHandler"),
		svc: svc,
	}
}

type createChildRequest struct {
	Position *int           `json:"position"`
	Title    string         `json:"title"`
	Metadata datatypes.JSON `json:"metadata"`
}

type attachRequest struct {
	Position *int `json:"position"`
}

type reorderRequest struct {
	Assignments []ordering.Assignment `json:"assignments"`
}

type moveRequest struct {
	ToParentID uuid.UUID `json:"to_parent_id"`
	Position   *int      `json:"position"`
}

// positionOrAppend treats a missing position as "append"; the store clamps
// anything past the end onto the append slot.
func positionOrAppend(p *int) int {
	if p == nil {
		return math.MaxInt32
	}
	return *p
}

func relationParam(c *gin.Context) (ordering.RelationName, bool) {
	rel, ok := RelationSlugs[c.Param("relation")]
	if !ok {
		response.RespondError(c, http.StatusNotFound, "unknown_relation", nil)
		return "", false
	}
	return rel, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil || id == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *CollectionHandler) fail(c *gin.Context, op string, err error) {
	respondServiceError(c, h.log, op, err)
}

func respondServiceError(c *gin.Context, log *logger.Logger, op string, err error) {
	ae := response.FromError(err)
	if ae.Status >= http.StatusInternalServerError {
		log.Error(op+" failed", "error", err, "path", c.Request.URL.Path)
	}
	_ = c.Error(err)
	response.RespondAggregateError(c, err)
}

// GET /api/:relation/:parentId/children
func (h *CollectionHandler) ListChildren(c *gin.Context) {
	rel, ok := relationParam(c)
	if !ok {
		return
	}
	parentID, ok := uuidParam(c, "parentId")
	if !ok {
		return
	}
	children, err := h.svc.ListChildren(c.Request.Context(), rel, parentID)
	if err != nil {
		h.fail(c, "ListChildren", err)
		return
	}
	response.RespondOK(c, gin.H{"children": children})
}

// POST /api/:relation/:parentId/children
func (h *CollectionHandler) CreateChild(c *gin.Context) {
	rel, ok := relationParam(c)
	if !ok {
		return
	}
	parentID, ok := uuidParam(c, "parentId")
	if !ok {
		return
	}
	var req createChildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	child, err := h.svc.CreateChild(c.Request.Context(), rel, parentID, positionOrAppend(req.Position), ordering.Attrs{
		Title:    req.Title,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.fail(c, "CreateChild", err)
		return
	}
	response.RespondCreated(c, gin.H{"child": child})
}

// POST /api/:relation/:parentId/children/:childId/attach
func (h *CollectionHandler) AttachExisting(c *gin.Context) {
	rel, ok := relationParam(c)
	if !ok {
		return
	}
	parentID, ok := uuidParam(c, "parentId")
	if !ok {
		return
	}
	childID, ok := uuidParam(c, "childId")
	if !ok {
		return
	}
	var req attachRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	m, err := h.svc.AttachExisting(c.Request.Context(), rel, parentID, childID, positionOrAppend(req.Position))
	if err != nil {
		h.fail(c, "AttachExisting", err)
		return
	}
	response.RespondCreated(c, gin.H{"membership": m})
}

// DELETE /api/:relation/:parentId/children/:childId
func (h *CollectionHandler) RemoveChild(c *gin.Context) {
	rel, ok := relationParam(c)
	if !ok {
		return
	}
	parentID, ok := uuidParam(c, "parentId")
	if !ok {
		return
	}
	childID, ok := uuidParam(c, "childId")
	if !ok {
		return
	}
	m, err := h.svc.RemoveChild(c.Request.Context(), rel, parentID, childID)
	if err != nil {
		h.fail(c, "RemoveChild", err)
		return
	}
	response.RespondOK(c, gin.H{"removed": m})
}

// PUT /api/:relation/:parentId/children/order
func (h *CollectionHandler) ReorderChildren(c *gin.Context) {
	rel, ok := relationParam(c)
	if !ok {
		return
	}
	parentID, ok := uuidParam(c, "parentId")
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.svc.ReorderChildren(c.Request.Context(), rel, parentID, req.Assignments)
	if err != nil {
		h.fail(c, "ReorderChildren", err)
		return
	}
	response.RespondOK(c, gin.H{"memberships": out})
}

// POST /api/:relation/:parentId/children/:childId/move
func (h *CollectionHandler) MoveChild(c *gin.Context) {
	rel, ok := relationParam(c)
	if !ok {
		return
	}
	fromID, ok := uuidParam(c, "parentId")
	if !ok {
		return
	}
	childID, ok := uuidParam(c, "childId")
	if !ok {
		return
	}
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	toID := req.ToParentID
	if toID == uuid.Nil {
		toID = fromID
	}
	m, err := h.svc.MoveChild(c.Request.Context(), rel, childID, fromID, toID, positionOrAppend(req.Position))
	if err != nil {
		h.fail(c, "MoveChild", err)
		return
	}
	response.RespondOK(c, gin.H{"membership": m})
}

// GET /api/:relation/:parentId/integrity
func (h *CollectionHandler) CheckIntegrity(c *gin.Context) {
	rel, ok := relationParam(c)
	if !ok {
		return
	}
	parentID, ok := uuidParam(c, "parentId")
	if !ok {
		return
	}
	rep, err := h.svc.CheckIntegrity(c.Request.Context(), rel, parentID)
	if err != nil {
		h.fail(c, "CheckIntegrity", err)
		return
	}
	response.RespondOK(c, rep)
}

// POST /api/:relation/:parentId/repair
func (h *CollectionHandler) RepairPositions(c *gin.Context) {
	rel, ok := relationParam(c)
	if !ok {
		return
	}
	parentID, ok := uuidParam(c, "parentId")
	if !ok {
		return
	}
	rep, err := h.svc.RepairPositions(c.Request.Context(), rel, parentID)
	if err != nil {
		h.fail(c, "RepairPositions", err)
		return
	}
	response.RespondOK(c, rep)
}
