// Package service exposes the HTTP surface of an Icore node: the websocket
// endpoint of clients and a few read-only JSON endpoints for operators.
package service

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/net/ws"
	"github.com/Linkolnn/Icore/src/registry"
	"github.com/Linkolnn/Icore/src/signal"
	"github.com/Linkolnn/Icore/src/token"
	"github.com/Linkolnn/Icore/src/version"
	"github.com/sirupsen/logrus"
)

// Stats is the payload of the /stats endpoint.
type Stats struct {
	registry.Stats
	Version string `json:"version"`
}

// Config groups the collaborators of a Service.
type Config struct {
	BindAddr  string
	Gateway   http.Handler
	Registry  *registry.Registry
	Calls     *signal.Orchestrator
	Validator token.Validator
	Logger    *logrus.Entry
}

// Service is the HTTP server of a node.
type Service struct {
	bindAddress string
	gateway     http.Handler
	registry    *registry.Registry
	calls       *signal.Orchestrator
	validator   token.Validator
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(conf Config) *Service {
	service := &Service{
		bindAddress: conf.BindAddr,
		gateway:     conf.Gateway,
		registry:    conf.Registry,
		calls:       conf.Calls,
		validator:   conf.Validator,
		mux:         http.NewServeMux(),
		logger:      conf.Logger,
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:    conf.BindAddr,
		Handler: service.mux,
	}

	return service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Icore API handlers")
	s.mux.Handle("/ws", s.gateway)
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/version", s.makeHandler(s.GetVersion))
	s.mux.HandleFunc("/ice-servers", s.makeHandler(s.GetICEServers))
	s.mux.HandleFunc("/calls/", s.makeHandler(s.GetCall))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		fn(w, r)
	}
}

// Handler returns the root handler, for embedding in another server.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() error {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Icore API")

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
		return err
	}
	return nil
}

// Shutdown stops accepting requests. Open websockets are closed by the
// registry.
func (s *Service) Shutdown() error {
	return s.server.Close()
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Stats{
		Stats:   s.registry.Stats(),
		Version: version.Version,
	})
}

// GetVersion ...
func (s *Service) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Current())
}

// GetICEServers returns the ICE servers clients should use for calls.
func (s *Service) GetICEServers(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.calls.ICEServers())
}

// GetCall returns a call session to one of its participants.
func (s *Service) GetCall(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	callID := strings.Trim(r.URL.Path[len("/calls/"):], "/")
	if callID == "" {
		s.writeError(w, common.NewErrMsg("Call", common.Validation, "", "callId is required"))
		return
	}

	sess, err := s.calls.Session(r.Context(), callID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if sess.Participant(identity.UserID) == nil {
		s.writeError(w, common.NewErrMsg("Call", common.Authorization, callID, "not a participant"))
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (s *Service) authenticate(r *http.Request) (*token.Identity, error) {
	return s.validator.Verify(ws.AccessToken(r))
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if t, ok := common.TypeOf(err); ok {
		status = httpStatus(t)
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	http.Error(w, err.Error(), status)
}

func httpStatus(t common.ErrType) int {
	switch t {
	case common.NotFound:
		return http.StatusNotFound
	case common.Authorization, common.Expired:
		return http.StatusUnauthorized
	case common.Conflict:
		return http.StatusConflict
	case common.Validation:
		return http.StatusBadRequest
	case common.Unavailable:
		return http.StatusServiceUnavailable
	case common.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
