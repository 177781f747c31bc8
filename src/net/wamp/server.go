package wamp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Server runs a WAMP router reachable over websockets.
type Server struct {
	address    string
	router     router.Router
	httpServer *http.Server
	tls        bool
	logger     *logrus.Entry
}

// NewServer creates a router for realm. When certFile and keyFile are both
// set, the websocket server uses TLS.
func NewServer(address, realm, certFile, keyFile string, logger *logrus.Entry) (*Server, error) {
	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Handler: router.NewWebsocketServer(nxr),
		Addr:    address,
	}

	useTLS := certFile != "" && keyFile != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			nxr.Close()
			return nil, fmt.Errorf("error loading X509 key pair: %s", err)
		}
		httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return &Server{
		address:    address,
		router:     nxr,
		httpServer: httpServer,
		tls:        useTLS,
		logger:     logger,
	}, nil
}

// Router returns the embedded router, for in-process sessions.
func (s *Server) Router() router.Router {
	return s.router
}

// Run serves websocket sessions until Shutdown.
func (s *Server) Run() error {
	var err error
	if s.tls {
		// certificates are already in the TLSConfig
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the websocket server and the router.
func (s *Server) Shutdown() {
	defer s.router.Close()

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}
}

// Addr returns the address of the server.
func (s *Server) Addr() string {
	return s.address
}
