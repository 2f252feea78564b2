// Package webhook is the HTTP boundary of the pipeline. One endpoint
// receives signals; everything else in the process is reached only through
// it.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"signalflow/config"
	"signalflow/internal/auth"
	"signalflow/internal/engine"
	"signalflow/internal/notify"
	"signalflow/internal/validate"
	"signalflow/logger"
	"signalflow/models"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"

	maxBodyBytes = 64 << 10
)

// Server owns the HTTP listener and routes each webhook request through
// authentication, validation, and execution.
type Server struct {
	srv            *http.Server
	authn          *auth.Authenticator
	validator      *validate.Validator
	engine         *engine.Engine
	notifier       notify.Notifier
	processTimeout time.Duration
	log            *logger.Log
}

func NewServer(cfg config.ServerConfig, authn *auth.Authenticator, validator *validate.Validator, eng *engine.Engine, notifier notify.Notifier) (*Server, error) {
	s := &Server{
		authn:          authn,
		validator:      validator,
		engine:         eng,
		notifier:       notifier,
		processTimeout: cfg.ProcessTimeout,
		log:            logger.GetLogger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.POST("/webhook", s.handleWebhook)
	router.GET("/healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.WithComponent("webhook").WithFields(logger.Fields{
		"addr": s.srv.Addr,
	}).Info("webhook server listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleWebhook(c *gin.Context) {
	logger.IncrementSignalReceived()
	log := s.log.WithComponent("webhook").WithFields(logger.Fields{
		"request_id": uuid.NewString(),
	})

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		logger.IncrementSignalRejected()
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ts, hasTs, err := parseTimestamp(c.GetHeader(headerTimestamp))
	if err != nil {
		logger.IncrementSignalRejected()
		s.notifyRejected("authentication", "malformed timestamp header")
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed timestamp header"})
		return
	}

	if err := s.authn.Verify(body, c.GetHeader(headerSignature), ts, hasTs); err != nil {
		logger.IncrementSignalRejected()
		log.WithError(err).Warn("request rejected at authentication")
		s.notifyRejected("authentication", authDetail(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": authDetail(err)})
		return
	}

	sig, err := s.validator.Parse(body)
	if err != nil {
		logger.IncrementSignalRejected()
		log.WithError(err).Warn("request rejected at validation")
		s.notifyRejected("validation", err.Error())
		c.JSON(validationStatus(err), gin.H{"error": err.Error()})
		return
	}

	log.WithFields(logger.Fields{
		"action":    string(sig.Action),
		"symbol":    sig.Symbol,
		"direction": string(sig.Direction),
		"type":      string(sig.OrderType),
	}).Info("signal accepted")
	if s.notifier != nil {
		s.notifier.SignalReceived(sig)
	}

	ctx := c.Request.Context()
	if s.processTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.processTimeout)
		defer cancel()
	}

	res := s.engine.Execute(ctx, sig)
	if s.notifier != nil {
		s.notifier.OrderResult(sig, res)
	}
	c.JSON(resultStatus(res), res)
}

func (s *Server) notifyRejected(stage, detail string) {
	if s.notifier != nil {
		s.notifier.RequestRejected(stage, detail)
	}
}

// resultStatus maps a terminal pipeline status onto the HTTP layer. A
// business rejection is still a handled request and answers 200; only a
// Failed result, where the system could not carry out a legal order, is a
// server error.
func resultStatus(res models.ExecutionResult) int {
	if res.Status == models.StatusFailed {
		return http.StatusBadGateway
	}
	return http.StatusOK
}

// validationStatus distinguishes a replayed signal from malformed input.
func validationStatus(err error) int {
	var verr *validate.Error
	if errors.As(err, &verr) && verr.Reason == validate.ReasonReplayed {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

// authDetail keeps the response body terse; reasons are fully logged
// server side.
func authDetail(err error) string {
	var aerr *auth.Error
	if errors.As(err, &aerr) && aerr.Reason == auth.ReasonStaleTimestamp {
		return "skew"
	}
	return "unauthorized"
}

func parseTimestamp(header string) (int64, bool, error) {
	if header == "" {
		return 0, false, nil
	}
	ts, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("timestamp header: %w", err)
	}
	return ts, true, nil
}
