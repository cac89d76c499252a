package app

import (
	httpH "github.com/yungbote/coursebuilder/internal/http/handlers"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
	"github.com/yungbote/coursebuilder/internal/realtime"
)

type Handlers struct {
	Collection *httpH.CollectionHandler
	Realtime   *httpH.RealtimeHandler
	Health     *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, services Services, hub *realtime.Hub, db httpH.Pinger) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Collection: httpH.NewCollectionHandler(log, services.Collection),
		Realtime:   httpH.NewRealtimeHandler(log, services.Collection, hub),
		Health:     httpH.NewHealthHandler(db),
	}
}
