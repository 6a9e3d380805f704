package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/larriantoniy/wa_gateway/internal/domain"
	"github.com/larriantoniy/wa_gateway/internal/useCases"
)

const (
	msgMissingParams = "Faltan parámetros: phoneNumber y/o message."
	msgNotConnected  = "Cliente no conectado. Intentando reconectar."
	msgSent          = "Mensaje enviado correctamente."
	msgNotFound      = "Número no encontrado en WhatsApp."
	msgSendError     = "Error al enviar el mensaje."
	msgConnected     = "Cliente conectado"
	msgDisconnected  = "Cliente no conectado"
	msgLoggedOut     = "Cliente desconectado correctamente."
	msgLogoutError   = "Error al desconectar el cliente."
)

// Session то, что API нужно от менеджера сессии
type Session interface {
	SendTo(ctx context.Context, number, message string) error
	Status() useCases.SessionStatus
	Logout(ctx context.Context) error
}

type Server struct {
	session Session
	hub     *Hub
	log     *slog.Logger
}

// NewServer собирает chi-роутер. hub может быть nil, тогда /events не регистрируется.
func NewServer(session Session, hub *Hub, log *slog.Logger) http.Handler {
	s := &Server{
		session: session,
		hub:     hub,
		log:     log.With("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(withRequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", headerRequestID},
		ExposedHeaders:   []string{headerRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	// Lookup/Send без дедлайна, живут пока жив запрос клиента
	r.Post("/send-message", s.handleSendMessage)
	r.Get("/status", s.handleStatus)
	r.Post("/logout", s.handleLogout)

	if hub != nil {
		r.Get("/events", hub.ServeWS)
	}

	return r
}

type sendMessageRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type clientInfo struct {
	domain.Identity
	State      domain.State `json:"state"`
	Generation uint64       `json:"generation"`
}

type connectedResponse struct {
	Status string     `json:"status"`
	Info   clientInfo `json:"info"`
}

type notConnectedResponse struct {
	Status string       `json:"status"`
	State  domain.State `json:"state"`
	QR     string       `json:"qr,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context(), s.log)

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Info("bad send-message body", "error", err)
		jsonResponse(w, http.StatusBadRequest, statusResponse{Status: msgMissingParams})
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" || req.Message == "" {
		jsonResponse(w, http.StatusBadRequest, statusResponse{Status: msgMissingParams})
		return
	}

	err := s.session.SendTo(r.Context(), req.PhoneNumber, req.Message)
	switch {
	case err == nil:
		jsonResponse(w, http.StatusOK, statusResponse{Status: msgSent})
	case errors.Is(err, domain.ErrInvalidInput):
		jsonResponse(w, http.StatusBadRequest, statusResponse{Status: msgMissingParams})
	case errors.Is(err, domain.ErrNotConnected):
		jsonResponse(w, http.StatusServiceUnavailable, statusResponse{Status: msgNotConnected})
	case errors.Is(err, domain.ErrRecipientNotFound):
		jsonResponse(w, http.StatusNotFound, statusResponse{Status: msgNotFound})
	default:
		log.Error("send-message failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, msgSendError, err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.session.Status()
	if st.State == domain.StateReady && !st.Identity.IsZero() {
		jsonResponse(w, http.StatusOK, connectedResponse{
			Status: msgConnected,
			Info: clientInfo{
				Identity:   st.Identity,
				State:      st.State,
				Generation: st.Generation,
			},
		})
		return
	}

	resp := notConnectedResponse{Status: msgDisconnected, State: st.State}
	if st.State == domain.StateConnecting {
		resp.QR = st.QR
	}
	jsonResponse(w, http.StatusInternalServerError, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		loggerFrom(r.Context(), s.log).Error("logout failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, msgLogoutError, err)
		return
	}
	jsonResponse(w, http.StatusOK, statusResponse{Status: msgLoggedOut})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string, err error) {
	jsonResponse(w, status, statusResponse{Status: message, Error: err.Error()})
}
