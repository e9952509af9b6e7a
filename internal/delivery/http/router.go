package http

import (
	"net/http"

	"go-clinic-queue/internal/delivery/http/handler"
	"go-clinic-queue/internal/delivery/http/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	router                  *mux.Router
	authHandler             *handler.AuthHandler
	doctorHandler           *handler.DoctorHandler
	bookingHandler          *handler.BookingHandler
	queueHandler            *handler.QueueHandler
	queueStreamHandler      *handler.QueueStreamHandler
	scheduleOverrideHandler *handler.ScheduleOverrideHandler
	auditLogHandler         *handler.AuditLogHandler
	authMiddleware          *middleware.AuthMiddleware
	corsMiddleware          *middleware.CORSMiddleware
	bookingLimiter          *middleware.RateLimiter
}

func NewRouter(
	authHandler *handler.AuthHandler,
	doctorHandler *handler.DoctorHandler,
	bookingHandler *handler.BookingHandler,
	queueHandler *handler.QueueHandler,
	queueStreamHandler *handler.QueueStreamHandler,
	scheduleOverrideHandler *handler.ScheduleOverrideHandler,
	auditLogHandler *handler.AuditLogHandler,
	authMiddleware *middleware.AuthMiddleware,
	corsMiddleware *middleware.CORSMiddleware,
	bookingLimiter *middleware.RateLimiter,
) *Router {
	return &Router{
		router:                  mux.NewRouter(),
		authHandler:             authHandler,
		doctorHandler:           doctorHandler,
		bookingHandler:          bookingHandler,
		queueHandler:            queueHandler,
		queueStreamHandler:      queueStreamHandler,
		scheduleOverrideHandler: scheduleOverrideHandler,
		auditLogHandler:         auditLogHandler,
		authMiddleware:          authMiddleware,
		corsMiddleware:          corsMiddleware,
		bookingLimiter:          bookingLimiter,
	}
}

func (r *Router) Setup() *mux.Router {
	// Metrics sit outside the API prefix for scrapers
	r.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// API versioning
	api := r.router.PathPrefix("/api/v1").Subrouter()

	// Health check
	api.HandleFunc("/health", r.healthCheck).Methods(http.MethodGet)

	// Auth routes (public)
	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", r.authHandler.Login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh-token", r.authHandler.RefreshToken).Methods(http.MethodPost)

	// Auth routes (protected)
	authProtected := api.PathPrefix("/auth").Subrouter()
	authProtected.Use(r.authMiddleware.Authenticate)
	authProtected.HandleFunc("/logout", r.authHandler.Logout).Methods(http.MethodPost)
	authProtected.HandleFunc("/me", r.authHandler.GetCurrentUser).Methods(http.MethodGet)

	// Doctor sessions and breaks (any signed-in user may read)
	doctors := api.PathPrefix("/doctors/{doctorId}").Subrouter()
	doctors.Use(r.authMiddleware.Authenticate)
	doctors.HandleFunc("/sessions", r.doctorHandler.GetSessions).Methods(http.MethodGet)
	doctors.HandleFunc("/break", r.doctorHandler.GetBreak).Methods(http.MethodGet)

	doctorsStaff := api.PathPrefix("/doctors/{doctorId}").Subrouter()
	doctorsStaff.Use(r.authMiddleware.Authenticate)
	doctorsStaff.Use(middleware.RequireStaff)
	doctorsStaff.HandleFunc("/break", r.doctorHandler.StartBreak).Methods(http.MethodPost)
	doctorsStaff.HandleFunc("/break", r.doctorHandler.EndBreak).Methods(http.MethodDelete)

	// Bookings (patients only, rate limited per user)
	bookings := api.PathPrefix("/bookings").Subrouter()
	bookings.Use(r.authMiddleware.Authenticate)
	bookings.Use(middleware.RequirePatient)
	bookings.Use(r.bookingLimiter.Handle)
	bookings.HandleFunc("", r.bookingHandler.CreateBooking).Methods(http.MethodPost)
	bookings.HandleFunc("/me", r.bookingHandler.GetMyBookings).Methods(http.MethodGet)
	bookings.HandleFunc("/{id}", r.bookingHandler.CancelBooking).Methods(http.MethodDelete)

	// Queue routes (staff; per-doctor access is checked by the queue use case)
	queues := api.PathPrefix("/queues/{doctorId}").Subrouter()
	queues.Use(r.authMiddleware.Authenticate)
	queues.Use(middleware.RequireStaff)
	queues.HandleFunc("", r.queueHandler.GetQueue).Methods(http.MethodGet)
	queues.HandleFunc("/stream", r.queueStreamHandler.Stream).Methods(http.MethodGet)
	queues.HandleFunc("/reorder", r.queueHandler.Reorder).Methods(http.MethodPost)
	queues.HandleFunc("/reset-order", r.queueHandler.ResetOrder).Methods(http.MethodPost)
	queues.HandleFunc("/call-next", r.queueHandler.CallNext).Methods(http.MethodPost)
	queues.HandleFunc("/skipped/restore", r.queueHandler.RestoreSkipped).Methods(http.MethodPost)

	appointments := api.PathPrefix("/appointments/{id}").Subrouter()
	appointments.Use(r.authMiddleware.Authenticate)
	appointments.Use(middleware.RequireStaff)
	appointments.HandleFunc("/check-in", r.queueHandler.CheckIn).Methods(http.MethodPost)
	appointments.HandleFunc("/skip", r.queueHandler.Skip).Methods(http.MethodPost)
	appointments.HandleFunc("/complete", r.queueHandler.Complete).Methods(http.MethodPost)
	appointments.HandleFunc("/no-show", r.queueHandler.MarkNoShow).Methods(http.MethodPost)

	// Admin routes (protected - admin only)
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(r.authMiddleware.Authenticate)
	admin.Use(middleware.RequireAdmin)

	// Schedule overrides (admin)
	admin.HandleFunc("/overrides", r.scheduleOverrideHandler.CreateOverride).Methods(http.MethodPost)
	admin.HandleFunc("/overrides", r.scheduleOverrideHandler.GetOverrides).Methods(http.MethodGet)
	admin.HandleFunc("/overrides/{id}", r.scheduleOverrideHandler.DeleteOverride).Methods(http.MethodDelete)
	admin.HandleFunc("/doctors/{doctorId}/overrides", r.scheduleOverrideHandler.GetOverrides).Methods(http.MethodGet)

	// Audit trail (admin)
	admin.HandleFunc("/audit-logs", r.auditLogHandler.GetAllAuditLogs).Methods(http.MethodGet)
	admin.HandleFunc("/audit-logs/{id}", r.auditLogHandler.GetAuditLog).Methods(http.MethodGet)

	// Add CORS middleware
	r.router.Use(r.corsMiddleware.Handle)

	return r.router
}

func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}
