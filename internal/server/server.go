package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/mohammad-safakhou/opsctl/internal/lock"
	"github.com/mohammad-safakhou/opsctl/internal/metrics"
	"github.com/mohammad-safakhou/opsctl/internal/outreach"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"go.uber.org/zap"
)

// SecretHeader carries the shared secret on hook requests.
const SecretHeader = "X-Opsctl-Secret"

// DefaultAddr is used by Run when no address is given.
const DefaultAddr = config.DefaultServerAddress

// ProspectStore is what the status hook writes to.
type ProspectStore interface {
	UpdateProspectStatus(ctx context.Context, id, status, errMsg string) error
	MarkProspectContacted(ctx context.Context, id, providerID string, at time.Time) error
}

// Dispatcher runs a campaign dispatch on request.
type Dispatcher interface {
	Run(ctx context.Context, opts outreach.Options) (outreach.Summary, error)
}

type Server struct {
	Echo       *echo.Echo
	Store      ProspectStore
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Secret     string
	Now        func() time.Time

	// base is cancelled when Run stops; dispatches started by hooks follow
	// it instead of the caller's connection.
	base context.Context
}

// New builds the echo instance and mounts health, metrics and hook routes.
// Dispatcher may be nil, in which case the dispatch hook answers 503.
func New(st ProspectStore, d Dispatcher, met *metrics.Metrics, secret string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{Store: st, Dispatcher: d, Metrics: met, Logger: logger, Secret: secret, Now: time.Now}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(met.Handler()))

	hooks := e.Group("/hooks", s.requireSecret)
	hooks.POST("/prospects/:id/status", s.prospectStatus)
	hooks.POST("/campaigns/:id/dispatch", s.campaignDispatch)

	s.Echo = e
	return s
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.Logger.Warn("request failed",
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err))
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}

func (s *Server) requireSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		got := c.Request().Header.Get(SecretHeader)
		if s.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.Secret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid hook secret")
		}
		return next(c)
	}
}

// StatusReport is the workflow runner's outcome for one prospect.
type StatusReport struct {
	Status     string `json:"status"`
	ProviderID string `json:"provider_id"`
	Error      string `json:"error"`
}

func (s *Server) prospectStatus(c echo.Context) error {
	id := c.Param("id")
	var req StatusReport
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Status = strings.TrimSpace(strings.ToLower(req.Status))
	if !store.ValidProspectStatus(req.Status) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid status %q", req.Status))
	}
	ctx := c.Request().Context()
	var err error
	if req.Status == store.ProspectConnectionRequested {
		err = s.Store.MarkProspectContacted(ctx, id, req.ProviderID, s.Now().UTC())
	} else {
		err = s.Store.UpdateProspectStatus(ctx, id, req.Status, req.Error)
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "prospect not found")
	}
	if err != nil {
		return err
	}
	s.Logger.Info("prospect status reported", zap.String("prospect_id", id), zap.String("status", req.Status))
	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

// DispatchRequest mirrors the campaign dispatch flags.
type DispatchRequest struct {
	AccountID string `json:"account_id"`
	Limit     int    `json:"limit"`
	DryRun    bool   `json:"dry_run"`
}

func (s *Server) campaignDispatch(c echo.Context) error {
	if s.Dispatcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "dispatch not configured")
	}
	var req DispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Limit < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must not be negative")
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()
	defer context.AfterFunc(s.baseContext(), cancel)()
	sum, err := s.Dispatcher.Run(ctx, outreach.Options{
		CampaignID: c.Param("id"),
		AccountID:  req.AccountID,
		Limit:      req.Limit,
		DryRun:     req.DryRun,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, sum)
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, outreach.ErrCampaignInactive), errors.Is(err, lock.ErrLocked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, outreach.ErrDailyLimit):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, outreach.ErrNoAccount):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}

func (s *Server) baseContext() context.Context {
	if s.base == nil {
		return context.Background()
	}
	return s.base
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// In-flight dispatches are cancelled with ctx.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	s.base = ctx
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("listening", zap.String("addr", addr))
		errCh <- s.Echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
