package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lunen/jobwatch/config"
	"github.com/lunen/jobwatch/lib"
	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/lib/models"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("jobwatch", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/users/{user_id}", func(r chi.Router) {
			r.Post("/searches", ctrl.createSearch)
			r.Post("/partner-searches", ctrl.createPartnerSearch)
			r.Post("/unsubscribe-all", ctrl.unsubscribeAll)
		})

		r.Route("/searches/{search_id}", func(r chi.Router) {
			r.Put("/", ctrl.updateSearch)
			r.Delete("/", ctrl.deleteSearch)
			r.Post("/deactivate", ctrl.deactivateSearch)
			r.Post("/send-initial", ctrl.sendInitial)
			r.Post("/send-update", ctrl.sendUpdate)
			r.Post("/send-now", ctrl.sendNow)
			r.Get("/feed", ctrl.fullFeed)
		})
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) rejectErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lib.ErrSearchNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.Is(err, lib.ErrDuplicateSearchURL):
		ctrl.reject(w, http.StatusConflict, err)
	case errors.Is(err, lib.ErrMissingAuditContact):
		ctrl.reject(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, feeds.ErrInvalid):
		ctrl.reject(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, feeds.ErrUnreachable):
		ctrl.reject(w, http.StatusBadGateway, err)
	default:
		ctrl.reject(w, http.StatusInternalServerError, err)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Error("Request failed", "error", err)
		return
	} else {
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

func (ctrl *controller) searchParams(r *http.Request) lib.CreateSearchParams {
	return lib.CreateSearchParams{
		UserID:        parseInt(chi.URLParam(r, "user_id")),
		Label:         r.FormValue("label"),
		URL:           r.FormValue("url"),
		SortBy:        r.FormValue("sort_by"),
		Email:         r.FormValue("email"),
		Frequency:     models.Frequency(r.FormValue("frequency")),
		DayOfWeek:     int(parseInt(r.FormValue("day_of_week"))),
		DayOfMonth:    int(parseInt(r.FormValue("day_of_month"))),
		JobsPerEmail:  int(parseInt(r.FormValue("jobs_per_email"))),
		Notes:         r.FormValue("notes"),
		CustomMessage: r.FormValue("custom_message"),
	}
}

func (ctrl *controller) createSearch(w http.ResponseWriter, r *http.Request) {
	params := ctrl.searchParams(r)
	if params.URL == "" {
		ctrl.reject(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	if params.Email == "" {
		ctrl.reject(w, http.StatusBadRequest, errors.New("email is required"))
		return
	}

	search, err := ctrl.svc.CreateSearch(r.Context(), params)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, search)
}

func (ctrl *controller) createPartnerSearch(w http.ResponseWriter, r *http.Request) {
	params := lib.CreatePartnerSearchParams{
		CreateSearchParams:       ctrl.searchParams(r),
		PartnerID:                parseInt(r.FormValue("partner_id")),
		ProviderID:               parseInt(r.FormValue("provider_id")),
		CreatedByID:              parseInt(r.FormValue("created_by_id")),
		URLExtras:                r.FormValue("url_extras"),
		PartnerMessage:           r.FormValue("partner_message"),
		AccountActivationMessage: r.FormValue("account_activation_message"),
		TagNames:                 r.Form["tag"],
	}
	if params.PartnerID == 0 {
		ctrl.reject(w, http.StatusBadRequest, errors.New("partner_id is required"))
		return
	}

	search, err := ctrl.svc.CreatePartnerSearch(r.Context(), params)
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, search)
}

func (ctrl *controller) updateSearch(w http.ResponseWriter, r *http.Request) {
	searchID := parseInt(chi.URLParam(r, "search_id"))
	search, err := ctrl.svc.UpdateSearch(r.Context(), searchID, lib.UpdateSearchParams{
		Label:         r.FormValue("label"),
		SortBy:        r.FormValue("sort_by"),
		Email:         r.FormValue("email"),
		Frequency:     models.Frequency(r.FormValue("frequency")),
		DayOfWeek:     int(parseInt(r.FormValue("day_of_week"))),
		DayOfMonth:    int(parseInt(r.FormValue("day_of_month"))),
		JobsPerEmail:  int(parseInt(r.FormValue("jobs_per_email"))),
		Notes:         r.FormValue("notes"),
		CustomMessage: r.FormValue("custom_message"),
	})
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, search)
}

func (ctrl *controller) deleteSearch(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.DeleteSearch(r.Context(), parseInt(chi.URLParam(r, "search_id"))); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ctrl *controller) deactivateSearch(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.DeactivateSearch(r.Context(), parseInt(chi.URLParam(r, "search_id"))); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ctrl *controller) unsubscribeAll(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.UnsubscribeAll(r.Context(), parseInt(chi.URLParam(r, "user_id"))); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ctrl *controller) sendInitial(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.SendInitial(r.Context(), parseInt(chi.URLParam(r, "search_id"))); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (ctrl *controller) sendUpdate(w http.ResponseWriter, r *http.Request) {
	msg := r.FormValue("message")
	if msg == "" {
		ctrl.reject(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	if err := ctrl.svc.SendUpdateNotice(r.Context(), parseInt(chi.URLParam(r, "search_id")), msg); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (ctrl *controller) sendNow(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.SendSearchNow(r.Context(), parseInt(chi.URLParam(r, "search_id"))); err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (ctrl *controller) fullFeed(w http.ResponseWriter, r *http.Request) {
	items, total, err := ctrl.svc.FullFeed(r.Context(), parseInt(chi.URLParam(r, "search_id")))
	if err != nil {
		ctrl.rejectErr(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"total": total,
		"items": items,
	})
}

func parseInt(s string) uint {
	u, _ := strconv.ParseUint(s, 10, 64)
	return uint(u)
}
