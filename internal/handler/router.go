package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-polyglot/backend/internal/handler/chat"
	languageHandler "github.com/zhouzirui/z-polyglot/backend/internal/handler/language"
	"github.com/zhouzirui/z-polyglot/backend/internal/handler/speech"
	"github.com/zhouzirui/z-polyglot/backend/internal/handler/stream"
	"github.com/zhouzirui/z-polyglot/backend/internal/handler/web"
	middlewarePkg "github.com/zhouzirui/z-polyglot/backend/internal/middleware"
	"github.com/zhouzirui/z-polyglot/backend/internal/model/language"
	chatService "github.com/zhouzirui/z-polyglot/backend/internal/service/chat"
	speechService "github.com/zhouzirui/z-polyglot/backend/internal/service/speech"
	"github.com/zhouzirui/z-polyglot/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. speechSvc may be nil.
func NewRouter(languages language.Store, chatSvc *chatService.Service, speechSvc *speechService.Service, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// 避免把 typed nil 传给接口
	var speechAPI speech.SpeechService
	if speechSvc != nil {
		speechAPI = speechSvc
	}

	web.New().RegisterRoutes(r)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		languageHandler.New(languages, chatSvc.DefaultLanguage()).RegisterRoutes(api)
		chat.New(chatSvc, log.Named("chat")).RegisterRoutes(api)
		speech.New(speechAPI, chatSvc, languages, log.Named("speech")).RegisterRoutes(api)
		speech.NewWebSocketHandler(chatSvc, log.Named("ws")).RegisterWebSocketRoutes(api)
		stream.New(chatSvc, log.Named("stream")).RegisterRoutes(api)
	})

	return r
}
