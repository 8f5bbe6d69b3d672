package http

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"streamrev/internal/core"
	"streamrev/pkg/trackref"
)

const (
	fetchFailedMessage   = "Failed to fetch Spotify data"
	invalidTrackMessage  = "Invalid Spotify track URI or URL format"
	rateLimitedMessage   = "Too many requests, try again later"
	missingConfigMessage = "Spotify credentials not configured"

	outcomeOK      = "ok"
	outcomeInvalid = "invalid"
	outcomeBusy    = "busy"
	outcomeError   = "error"
	confidenceNone = "none"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type apiHandler struct {
	services Services
	metrics  *Metrics
	logger   *zap.Logger
}

// route wraps an API handler with CORS headers and the per-client limit.
func (h *apiHandler) route(handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if fg := h.services.Floodgate; fg != nil {
			client := clientIP(r)
			if !fg.Allow(client) {
				h.metrics.RateLimitedTotal.Inc()
				h.logger.Warn("Request rate limited",
					zap.String("client", client),
					zap.String("path", r.URL.Path))

				retry := int(math.Ceil(fg.RetryAfter(client).Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				writeJSON(w, h.logger, http.StatusTooManyRequests, errorResponse{Error: rateLimitedMessage})
				return
			}
		}

		handler(w, r)
	})
}

func preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) playCount(w http.ResponseWriter, r *http.Request) {
	trackID := r.PathValue("trackId")
	if !trackref.ValidID(trackID) {
		h.metrics.LookupsTotal.WithLabelValues(outcomeInvalid).Inc()
		writeJSON(w, h.logger, http.StatusBadRequest, errorResponse{Error: invalidTrackMessage})
		return
	}

	h.logger.Info("Fetching play count", zap.String("trackID", trackID))

	h.metrics.InFlightLookups.Inc()
	start := time.Now()
	report, err := h.services.PlayCounts.Lookup(r.Context(), trackID)
	h.metrics.InFlightLookups.Dec()

	outcome := outcomeOK
	defer func() {
		h.metrics.LookupsTotal.WithLabelValues(outcome).Inc()
		h.metrics.LookupDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, core.ErrInvalidTrackReference):
			outcome = outcomeInvalid
			writeJSON(w, h.logger, http.StatusBadRequest, errorResponse{Error: invalidTrackMessage})
			return
		case errors.Is(err, core.ErrBusy):
			outcome = outcomeBusy
			status = http.StatusServiceUnavailable
		default:
			outcome = outcomeError
		}

		h.logger.Error("Failed to fetch play count",
			zap.String("trackID", trackID),
			zap.Int("status", status),
			zap.Error(err))
		writeJSON(w, h.logger, status, errorResponse{Error: fetchFailedMessage, Details: err.Error()})
		return
	}

	confidence := confidenceNone
	if report.PlayCount != nil {
		confidence = string(report.PlayCount.Confidence)
	}
	h.metrics.ConfidenceTotal.WithLabelValues(confidence).Inc()

	writeJSON(w, h.logger, http.StatusOK, report)
}

func (h *apiHandler) metadata(w http.ResponseWriter, r *http.Request) {
	trackID := r.PathValue("trackId")
	if !trackref.ValidID(trackID) {
		h.metrics.MetadataRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
		writeJSON(w, h.logger, http.StatusBadRequest, errorResponse{Error: invalidTrackMessage})
		return
	}

	track, err := h.services.Metadata.GetTrack(r.Context(), trackID)
	if err != nil {
		h.metrics.MetadataRequestsTotal.WithLabelValues(outcomeError).Inc()
		h.logger.Error("Failed to fetch track metadata", zap.String("trackID", trackID), zap.Error(err))
		writeJSON(w, h.logger, http.StatusInternalServerError, errorResponse{Error: upstreamMessage(err)})
		return
	}

	h.metrics.MetadataRequestsTotal.WithLabelValues(outcomeOK).Inc()
	writeJSON(w, h.logger, http.StatusOK, track)
}

func (h *apiHandler) token(w http.ResponseWriter, r *http.Request) {
	token, err := h.services.Tokens.AccessToken(r.Context())
	if err != nil {
		h.metrics.TokenRequestsTotal.WithLabelValues(outcomeError).Inc()
		h.logger.Error("Failed to issue access token", zap.Error(err))
		writeJSON(w, h.logger, http.StatusInternalServerError, errorResponse{Error: upstreamMessage(err)})
		return
	}

	h.metrics.TokenRequestsTotal.WithLabelValues(outcomeOK).Inc()
	writeJSON(w, h.logger, http.StatusOK, tokenResponse{AccessToken: token})
}

func upstreamMessage(err error) string {
	if errors.Is(err, core.ErrMissingCredentials) {
		return missingConfigMessage
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}

// clientIP keys the flood limit on the peer address. Forwarding headers are ignored.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
