package language

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-polyglot/backend/internal/model/language"
	"github.com/zhouzirui/z-polyglot/backend/pkg/utils"
)

// Handler 语言列表的HTTP处理器
type Handler struct {
	languages   language.Store
	defaultLang string
}

// New 创建语言处理器
func New(languages language.Store, defaultLang string) *Handler {
	return &Handler{
		languages:   languages,
		defaultLang: defaultLang,
	}
}

// RegisterRoutes 注册语言相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/languages", h.handleListLanguages)
}

// handleListLanguages 按界面顺序列出可选语言
func (h *Handler) handleListLanguages(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"languages": h.languages.List(),
		"default":   h.defaultLang,
	})
}
