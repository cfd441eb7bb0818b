package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tateisu/mastodonInboxFilter/app/apub"
	"github.com/tateisu/mastodonInboxFilter/app/audit"
	"github.com/tateisu/mastodonInboxFilter/app/cfg"
	"github.com/tateisu/mastodonInboxFilter/app/database"
	"github.com/tateisu/mastodonInboxFilter/app/spam"
)

// Hop-by-hop framing is re-derived by our own HTTP client and response
// writer, so it must not be relayed blindly.
var skipHeaders = map[string]struct{}{
	"transfer-encoding": {},
}

const spamResponseBody = "automatic spam detection."

type Handler struct {
	cfg        *cfg.Cfg
	httpClient *http.Client
	checker    *spam.Checker
	auditor    *audit.Logger
	msgRepo    database.MessageRepository
}

func NewHandler(cfg *cfg.Cfg, httpClient *http.Client, checker *spam.Checker,
	auditor *audit.Logger, msgRepo database.MessageRepository) *Handler {
	return &Handler{
		cfg:        cfg,
		httpClient: httpClient,
		checker:    checker,
		auditor:    auditor,
		msgRepo:    msgRepo,
	}
}

// PostInbox receives one federation delivery, classifies it, and either
// short-circuits with an acceptance response or relays it to the real inbox.
// Whatever branch terminates the request, the audit record is enqueued.
func (h *Handler) PostInbox(c *gin.Context) {
	rec := &audit.Record{
		Time:           audit.TimeKey(time.Now()),
		Method:         c.Request.Method,
		URI:            c.Request.RequestURI,
		RequestHeaders: audit.HeadersOf(c.Request.Header),
	}
	rec.Extra.Add("Request", fmt.Sprintf("%s %s", rec.Method, rec.URI))
	defer func() {
		if err := h.auditor.Enqueue(rec); err != nil {
			slog.Warn("Failed to enqueue audit record", "time", rec.Time, "error", err)
		}
	}()

	slog.Info("Proxying inbox delivery", "time", rec.Time, "method", rec.Method, "uri", rec.URI)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.cfg.BodyLimit+1))
	if err != nil {
		slog.Warn("Failed to read request body", "time", rec.Time, "error", err)
		rec.Extra.Add("Error", err.Error())
		c.Status(http.StatusBadRequest)
		return
	}
	rec.RequestBody = body
	if int64(len(body)) > h.cfg.BodyLimit {
		slog.Warn("Request body exceeds limit", "time", rec.Time, "limit", h.cfg.BodyLimit)
		rec.Extra.Add("Error", "request body too large")
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	if h.checkSpam(c.Request.Context(), body, rec.Time) {
		rec.Blocked = true
		c.Data(http.StatusAccepted, "text/plain", []byte(spamResponseBody))
		return
	}

	h.forward(c, rec, body)
}

// checkSpam is fail-open: any parse or classification failure, panics
// included, means the message is forwarded as if the check had not run.
func (h *Handler) checkSpam(ctx context.Context, body []byte, label string) (isSpam bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Cannot check spam", "label", label, "panic", r)
			isSpam = false
		}
	}()

	status, err := apub.Parse(body, label)
	if err != nil {
		slog.Warn("Cannot check spam", "label", label, "error", err)
		return false
	}
	if status == nil {
		return false
	}
	return h.checker.IsSpam(ctx, status)
}

func (h *Handler) forward(c *gin.Context, rec *audit.Record, body []byte) {
	req, err := http.NewRequestWithContext(c.Request.Context(),
		rec.Method, h.cfg.RedirectUrl+rec.URI, bytes.NewReader(body))
	if err != nil {
		slog.Error("Failed to build upstream request", "time", rec.Time, "error", err)
		rec.Extra.Add("Error", err.Error())
		c.Data(http.StatusBadGateway, "text/plain", []byte("upstream request failed."))
		return
	}
	for _, hd := range rec.RequestHeaders {
		if _, skip := skipHeaders[strings.ToLower(hd.Name)]; skip {
			continue
		}
		req.Header.Add(hd.Name, hd.Value)
	}

	res, err := h.httpClient.Do(req)
	if err != nil {
		slog.Error("Upstream request failed", "time", rec.Time, "error", err)
		rec.Extra.Add("Error", err.Error())
		c.Data(http.StatusBadGateway, "text/plain", []byte("upstream request failed."))
		return
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		slog.Error("Failed to read upstream response", "time", rec.Time, "error", err)
		rec.Extra.Add("Error", err.Error())
		c.Data(http.StatusBadGateway, "text/plain", []byte("upstream request failed."))
		return
	}

	rec.Status = res.StatusCode
	rec.Extra.Add("Status", res.Status)
	rec.ResponseHeaders = audit.HeadersOf(res.Header)
	rec.ResponseBody = resBody

	for _, hd := range rec.ResponseHeaders {
		if hd.Name == "Content-Type" || hd.Name == "Content-Length" {
			continue
		}
		if _, skip := skipHeaders[strings.ToLower(hd.Name)]; skip {
			continue
		}
		c.Writer.Header().Add(hd.Name, hd.Value)
	}

	switch res.StatusCode {
	case http.StatusAccepted, http.StatusNoContent:
		c.Status(res.StatusCode)
	default:
		c.Data(res.StatusCode, res.Header.Get("Content-Type"), resBody)
	}
	slog.Info("Relayed inbox delivery", "time", rec.Time, "status", res.StatusCode)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetStats(c *gin.Context) {
	if h.msgRepo == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	stats, err := h.msgRepo.GetStats()
	if err != nil {
		slog.Error("Database error", "operation", "get_stats", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, stats)
}
