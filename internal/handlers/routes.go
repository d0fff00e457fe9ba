package handlers

import (
	"net/http"
	"strings"

	"github.com/golang/glog"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"slidecollab/internal/session"
)

// Routes groups the handlers served by the router
type Routes struct {
	Auth          *Auth
	Sessions      *SessionHandler
	Presentations *PresentationHandler
	Slides        *SlideHandler
	WebSocket     *WebSocketHandler
}

// SetupRoutes configures all HTTP routes. allowedOrigins configures CORS;
// "*" allows any origin.
func SetupRoutes(routes *Routes, allowedOrigins []string) http.Handler {
	router := mux.NewRouter()
	auth := routes.Auth

	// Health
	router.HandleFunc("/healthz", routes.Slides.Health).Methods("GET")

	// Realtime
	router.HandleFunc("/ws", routes.WebSocket.HandleWebSocket).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()

	// Session
	api.HandleFunc("/session", routes.Sessions.Login).Methods("POST")
	api.HandleFunc("/session", auth.RequireIdentity(routes.Sessions.Current)).Methods("GET")
	api.HandleFunc("/session", routes.Sessions.Logout).Methods("DELETE")

	// Presentations
	api.HandleFunc("/presentations", auth.RequireIdentity(routes.Presentations.ListPresentations)).Methods("GET")
	api.HandleFunc("/presentations", auth.RequireMutation(routes.Presentations.CreatePresentation)).Methods("POST")
	api.HandleFunc("/presentations/{id}", auth.RequireIdentity(routes.Presentations.VisitPresentation)).Methods("GET")
	api.HandleFunc("/presentations/{id}", auth.RequireMutation(routes.Presentations.DeletePresentation)).Methods("DELETE")
	api.HandleFunc("/presentations/{id}/present", routes.Presentations.Present).Methods("GET")
	api.HandleFunc("/presentations/{id}/slides", auth.RequireMutation(routes.Presentations.AddSlide)).Methods("POST")
	api.HandleFunc("/presentations/{id}/slides/{slideId}", auth.RequireMutation(routes.Presentations.DeleteSlide)).Methods("DELETE")
	api.HandleFunc("/presentations/{id}/users", auth.RequireIdentity(routes.Presentations.ListUsers)).Methods("GET")
	api.HandleFunc("/presentations/{id}/users/{username}/role", auth.RequireMutation(routes.Presentations.UpdateUserRole)).Methods("PUT")

	// Slides; reads are public
	api.HandleFunc("/slides/save", auth.RequireMutation(routes.Slides.SaveSlide)).Methods("POST")
	api.HandleFunc("/slides/{slideId}/svg", routes.Slides.GetSvg).Methods("GET")
	api.HandleFunc("/slides/{slideId}/data", routes.Slides.GetSlideData).Methods("GET")
	api.HandleFunc("/slides/{slideId}/presence", routes.Slides.GetPresence).Methods("GET")

	var handler http.Handler = router
	handler = gorillahandlers.RecoveryHandler(
		gorillahandlers.RecoveryLogger(recoveryLogger{}),
		gorillahandlers.PrintRecoveryStack(true),
	)(handler)
	handler = gorillahandlers.CombinedLoggingHandler(accessLog{}, handler)
	handler = corsMiddleware(allowedOrigins).Handler(handler)
	return handler
}

// corsMiddleware allows cookies only for explicitly listed origins; browsers
// refuse credentials on a wildcard answer, so "*" callers use the bearer token.
func corsMiddleware(allowedOrigins []string) *cors.Cors {
	credentials := len(allowedOrigins) > 0
	for _, origin := range allowedOrigins {
		if origin == "*" {
			credentials = false
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", session.CSRFHeader},
		AllowCredentials: credentials,
	})
}

// accessLog writes access log lines at verbosity 1
type accessLog struct{}

func (accessLog) Write(p []byte) (int, error) {
	glog.V(1).Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

type recoveryLogger struct{}

func (recoveryLogger) Println(args ...interface{}) {
	glog.Errorln(args...)
}
