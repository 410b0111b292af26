package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/sleepwatch/sleep-server-go/internal/errors"
	"github.com/sleepwatch/sleep-server-go/internal/httputil"
	"github.com/sleepwatch/sleep-server-go/internal/model"
	"github.com/sleepwatch/sleep-server-go/internal/service"
)

type ctxKey string

const userContextKey ctxKey = "user"

type UserDirectory interface {
	Get(ctx context.Context, id string) (*model.User, error)
}

type SleepRecords interface {
	ClockIn(ctx context.Context, userID string, now time.Time) (*model.SleepSession, error)
	ClockOut(ctx context.Context, userID, sessionID string, now time.Time) (*model.SleepSession, error)
	ActiveSession(ctx context.Context, userID string) (*model.SleepSession, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.SleepSession, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

type FollowingSleepFeeds interface {
	PreviousWeek(ctx context.Context, userID string, now time.Time) (*service.FollowingSleepFeed, error)
}

type SleepHandler struct {
	users     UserDirectory
	sleeps    SleepRecords
	following FollowingSleepFeeds
	now       func() time.Time
}

func NewSleepHandler(users UserDirectory, sleeps SleepRecords, following FollowingSleepFeeds) *SleepHandler {
	return &SleepHandler{
		users:     users,
		sleeps:    sleeps,
		following: following,
		now:       time.Now,
	}
}

// Routes is mounted under /api/v1/users.
func (h *SleepHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{userID}", func(r chi.Router) {
		r.Use(h.loadUser)
		r.Post("/sleep_records/clock_in", h.ClockIn)
		r.Patch("/sleep_records/{id}/clock_out", h.ClockOut)
		r.Get("/sleep_records/active", h.Active)
		r.Get("/sleep_records", h.List)
		r.Get("/following_sleep_records", h.Following)
	})

	return r
}

func (h *SleepHandler) loadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.users.Get(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(r *http.Request) *model.User {
	user, _ := r.Context().Value(userContextKey).(*model.User)
	return user
}

// POST /api/v1/users/{userID}/sleep_records/clock_in
func (h *SleepHandler) ClockIn(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	session, err := h.sleeps.ClockIn(r.Context(), user.ID, h.now())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sleepRecordResponse{SleepRecord: session})
}

// PATCH /api/v1/users/{userID}/sleep_records/{id}/clock_out
func (h *SleepHandler) ClockOut(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	session, err := h.sleeps.ClockOut(r.Context(), user.ID, chi.URLParam(r, "id"), h.now())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sleepRecordResponse{SleepRecord: session})
}

// GET /api/v1/users/{userID}/sleep_records/active
func (h *SleepHandler) Active(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	session, err := h.sleeps.ActiveSession(r.Context(), user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if session == nil {
		httputil.WriteError(w, apperrors.New(apperrors.ErrCodeNotFound, "No active sleep record found"))
		return
	}

	writeJSON(w, http.StatusOK, sleepRecordResponse{SleepRecord: session})
}

// GET /api/v1/users/{userID}/sleep_records
func (h *SleepHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := currentUser(r)
	p := ParsePagination(r)

	sessions, err := h.sleeps.ListByUser(ctx, user.ID, p.Limit, p.Offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	total, err := h.sleeps.CountByUser(ctx, user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sleepRecordsResponse{
		SleepRecords: sessions,
		Meta:         NewPageMeta(p, total),
	})
}

// GET /api/v1/users/{userID}/following_sleep_records
func (h *SleepHandler) Following(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := currentUser(r)
	p := ParsePagination(r)

	feed, err := h.following.PreviousWeek(ctx, user.ID, h.now())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rows, err := feed.Page(ctx, p.Limit, p.Offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	total, err := feed.Count(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	from, to := feed.Window()
	writeJSON(w, http.StatusOK, followingSleepRecordsResponse{
		SleepRecords: rows,
		Meta: followingMeta{
			PageMeta: NewPageMeta(p, total),
			From:     from.Format(time.RFC3339),
			To:       to.Format(time.RFC3339),
		},
	})
}
