package hub

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/lk2023060901/circuit-go/internal/json"
	"github.com/lk2023060901/circuit-go/internal/registry"
	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

type componentView struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	HasRefresh bool      `json:"has_refresh"`
}

type sessionView struct {
	ID           string          `json:"id"`
	Idle         bool            `json:"idle"`
	LastActivity *time.Time      `json:"last_activity,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Components   []componentView `json:"components"`
}

func toView(info registry.SessionInfo) sessionView {
	v := sessionView{
		ID:        info.ID,
		Idle:      info.Idle,
		CreatedAt: info.CreatedAt,
		Components: lo.Map(info.Components, func(c registry.ComponentInfo, _ int) componentView {
			return componentView{ID: c.ID, CreatedAt: c.CreatedAt, HasRefresh: c.HasRefresh}
		}),
	}
	if !info.LastActivity.IsZero() {
		v.LastActivity = &info.LastActivity
	}
	return v
}

// NewAdminHandler 返回诊断与手动操作接口。
//
// 路由：
//   - GET  /sessions[?order=activity]        所有会话，默认按 Registry 顺序；
//   - POST /invoke[?session=<id>]            广播或定向刷新；
//   - POST /visibility?session=<id>&visible=<bool>  切换会话内组件的可见性。
func NewAdminHandler(reg *registry.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		infos := reg.Sessions()
		if r.URL.Query().Get("order") == "activity" {
			infos = reg.SessionsByActivity()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":       len(infos),
			"sessions":    lo.Map(infos, func(i registry.SessionInfo, _ int) sessionView { return toView(i) }),
			"deactivated": reg.Deactivated(),
		})
	})

	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var n int
		if id, ok := r.URL.Query()["session"]; ok {
			n = reg.InvokeSession(id[0])
		} else {
			n = reg.Invoke()
		}
		writeJSON(w, http.StatusOK, map[string]int{"invoked": n})
	})

	mux.HandleFunc("/visibility", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		visible, err := strconv.ParseBool(q.Get("visible"))
		if err != nil {
			writeError(w, merr.WrapErrParameterInvalidMsg("visible: %s", err.Error()))
			return
		}
		n, err := reg.SetVisibility(q.Get("session"), visible)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"changed": n})
	})

	return mux
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, merr.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, merr.ErrParameterInvalid):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"code": merr.Code(err), "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
