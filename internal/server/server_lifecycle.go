package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
)

// TLSConfig holds the TLS configuration for the server.
type TLSConfig struct {
	// CertPath is the path to the TLS certificate file.
	CertPath string
	// KeyPath is the path to the TLS private key file.
	KeyPath string
}

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
// After receiving from the channel, the server is either running or failed.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
		close(errCh)
		return errCh
	}

	s.serve(ln, "", errCh)
	return errCh
}

// StartAsyncTLS is the TLS version of StartAsync. The server only accepts
// HTTPS connections when started this way.
func (s *Server) StartAsyncTLS(tlsCfg TLSConfig) <-chan error {
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
		close(errCh)
		return errCh
	}

	cert, err := tls.LoadX509KeyPair(tlsCfg.CertPath, tlsCfg.KeyPath)
	if err != nil {
		ln.Close()
		errCh <- fmt.Errorf("failed to load TLS certificate: %w", err)
		close(errCh)
		return errCh
	}

	// MinVersion TLS 1.2 excludes older insecure versions.
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	s.serve(tls.NewListener(ln, tlsConfig), " (TLS enabled)", errCh)
	return errCh
}

func (s *Server) serve(ln net.Listener, suffix string, errCh chan error) {
	httpServer := &http.Server{
		Handler: s.createMux(),
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.boundAddr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		log.Printf("server: listening on %s%s", ln.Addr(), suffix)
		errCh <- nil
		close(errCh)

		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the HTTP server. Pairing waits are capped by
// PairingWaitMax, so in-flight requests drain within that bound.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	httpServer := s.httpServer
	s.mu.RUnlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}
