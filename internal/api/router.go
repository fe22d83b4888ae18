package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Bus            Emitter
	Matcher        RecipientMatcher
	Subscribers    SubscriberGetter
	Trigger        TestSender
	CircuitBreaker CircuitStater
	Events         EventLister
	Metrics        MetricsSource
	Queue          QueueDepther
	Hub            Hub
	Checks         map[string]Pinger
}

// Hub is the websocket side of the delivery event stream.
type Hub interface {
	ClientCounter
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS for dashboard
	r.Use(corsMiddleware)

	lifecycleHandler := NewLifecycleHandler(d.Bus)
	topicHandler := NewTopicHandler(d.Matcher)
	subHandler := NewSubscriberHandler(d.Subscribers, d.Trigger, d.CircuitBreaker)
	deliveryHandler := NewDeliveryHandler(d.Events)
	dashHandler := NewDashboardHandler(d.Metrics, d.Queue, d.Hub)

	// WebSocket endpoint
	r.Get("/ws", d.Hub.HandleWebSocket)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(d.Checks))

		r.Post("/lifecycle", lifecycleHandler.Create)

		r.Get("/topics/{model}/{action}/subscribers", topicHandler.Subscribers)

		r.Route("/subscribers/{id}", func(r chi.Router) {
			r.Post("/test", subHandler.Test)
			r.Get("/health", subHandler.Health)
		})

		r.Get("/deliveries", deliveryHandler.List)
		r.Get("/metrics", dashHandler.Metrics)
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
