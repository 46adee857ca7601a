package net

import (
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/journal"
	"github.com/lotuspar/libblitz/internal/net/ws"
	"github.com/lotuspar/libblitz/internal/observability"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/session"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
)

const recentTransitions = 16

type HTTPHandlerConfig struct {
	ClientDir     string
	Logger        telemetry.Logger
	Observability observability.Config
	Registry      *activity.Registry
	Counters      *telemetry.Counters
	Journal       *journal.Journal
	Router        *logging.Router
	TickRate      int
	WebSocket     *ws.Handler
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
}

type leaveRequest struct {
	ID string `json:"id"`
}

type switchRequest struct {
	Kind    string   `json:"kind"`
	Members []string `json:"members,omitempty"`
}

type switchResponse struct {
	ActivityID string           `json:"activityId"`
	Kind       string           `json:"kind"`
	Previous   *activity.Result `json:"previous,omitempty"`
}

type activityListing struct {
	Kinds   []string                   `json:"kinds"`
	Current *session.InstanceSnapshot `json:"current,omitempty"`
}

type journalDiagnostics struct {
	Size   int                  `json:"size"`
	Oldest uint64               `json:"oldestSeq"`
	Newest uint64               `json:"newestSeq"`
	Recent []session.Transition `json:"recent,omitempty"`
}

// NewHTTPHandler exposes the authority's HTTP surface.
func NewHTTPHandler(controller *session.Controller, hub *ws.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	registry := cfg.Registry
	if registry == nil {
		registry = activity.NewRegistry()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string                 `json:"status"`
			ServerTime int64                  `json:"serverTime"`
			Session    session.Snapshot       `json:"session"`
			Clients    []ws.ClientDiagnostics `json:"clients"`
			TickRate   int                    `json:"tickRate"`
			Heartbeat  int64                  `json:"heartbeatMillis"`
			Telemetry  map[string]uint64      `json:"telemetry,omitempty"`
			Journal    *journalDiagnostics    `json:"journal,omitempty"`
			Logging    *logging.RouterStats   `json:"logging,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Session:    controller.Snapshot(),
			Clients:    hub.DiagnosticsSnapshot(),
			TickRate:   cfg.TickRate,
			Heartbeat:  hub.HeartbeatInterval().Milliseconds(),
		}
		if cfg.Counters != nil {
			payload.Telemetry = cfg.Counters.Snapshot()
		}
		if cfg.Journal != nil {
			size, oldest, newest := cfg.Journal.Window()
			recent := cfg.Journal.Transitions()
			if len(recent) > recentTransitions {
				recent = recent[len(recent)-recentTransitions:]
			}
			payload.Journal = &journalDiagnostics{Size: size, Oldest: oldest, Newest: newest, Recent: recent}
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			payload.Logging = &stats
		}

		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req joinRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
		}
		s := controller.Session()
		member := s.Join(req.Name)
		writeJSON(w, logger, nethttp.StatusOK, joinResponse{ID: string(member.ID), SessionID: s.ID()})
	})

	mux.HandleFunc("/leave", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req leaveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}
		if _, ok := controller.Leave(r.Context(), roster.MemberID(req.ID)); !ok {
			httpError(w, "unknown member", nethttp.StatusNotFound)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	})

	mux.HandleFunc("/activity", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.Method {
		case nethttp.MethodGet:
			writeJSON(w, logger, nethttp.StatusOK, activityListing{
				Kinds:   registry.Kinds(),
				Current: controller.Snapshot().Current,
			})
		case nethttp.MethodPost:
			var req switchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
			factory, err := registry.Factory(req.Kind)
			if err != nil {
				if errors.Is(err, activity.ErrUnknownKind) {
					httpError(w, err.Error(), nethttp.StatusNotFound)
					return
				}
				httpError(w, err.Error(), nethttp.StatusInternalServerError)
				return
			}

			var members *roster.Roster
			if req.Members != nil {
				ids := make([]roster.MemberID, len(req.Members))
				for i, id := range req.Members {
					ids[i] = roster.MemberID(id)
				}
				subset, err := controller.Session().Subset(ids)
				if err != nil {
					httpError(w, err.Error(), nethttp.StatusBadRequest)
					return
				}
				members = &subset
			}

			previous, err := controller.SwitchActivity(r.Context(), req.Kind, factory, members)
			if err != nil {
				logger.Printf("failed to switch activity to %s: %v", req.Kind, err)
				httpError(w, err.Error(), nethttp.StatusInternalServerError)
				return
			}
			resp := switchResponse{Kind: req.Kind, Previous: previous}
			if current := controller.Current(); current != nil {
				resp.ActivityID = current.ID
			}
			writeJSON(w, logger, nethttp.StatusOK, resp)
		default:
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
		}
	})

	if cfg.WebSocket != nil {
		mux.HandleFunc("/ws", cfg.WebSocket.Handle)
	}

	if cfg.Observability.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return otelhttp.NewHandler(mux, "libblitz")
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
