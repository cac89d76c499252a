package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursebuilder/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
	"github.com/yungbote/coursebuilder/internal/realtime"
	"github.com/yungbote/coursebuilder/internal/services"
)

type RealtimeHandler struct {
	log *logger.Logger
	svc services.CollectionService
	hub *realtime.Hub
}

func NewRealtimeHandler(log *logger.Logger, svc services.CollectionService, hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{
		log: log.With("handler", "RealtimeHandler"),
		svc: svc,
		hub: hub,
	}
}

// GET /api/:relation/:parentId/events
func (h *RealtimeHandler) StreamCollection(c *gin.Context) {
	rel, ok := relationParam(c)
	if !ok {
		return
	}
	parentID, ok := uuidParam(c, "parentId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.svc.AuthorizeWatch(ctx, rel, parentID); err != nil {
		respondServiceError(c, h.log, "StreamCollection", err)
		return
	}

	client := h.hub.NewClient(ctxutil.ActorID(ctx))
	h.hub.AddChannel(client, realtime.ChannelFor(rel, parentID))
	h.log.Debug("stream open", "client_id", client.ID, "relation", rel, "parent_id", parentID)
	defer h.hub.CloseClient(client)
	h.hub.Serve(c.Writer, c.Request, client)
}
