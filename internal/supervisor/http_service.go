package supervisor

import (
	"context"
	"fmt"
	"time"
)

// Listener is the part of *fiber.App the HTTP service drives.
type Listener interface {
	Listen(addr string) error
	ShutdownWithContext(ctx context.Context) error
}

// HTTPService runs a Fiber app as a supervised service: Listen runs in a
// goroutine and cancellation triggers a graceful shutdown.
type HTTPService struct {
	app             Listener
	addr            string
	shutdownTimeout time.Duration
	// beforeShutdown runs ahead of the listener shutdown, e.g. to close sockets.
	beforeShutdown func(context.Context)
}

// NewHTTPService wraps app listening on addr.
func NewHTTPService(app Listener, addr string, shutdownTimeout time.Duration, beforeShutdown func(context.Context)) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		app:             app,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		beforeShutdown:  beforeShutdown,
	}
}

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.app.Listen(h.addr)
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The original context is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if h.beforeShutdown != nil {
			h.beforeShutdown(shutdownCtx)
		}
		if err := h.app.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return "http-server " + h.addr
}
