package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"order-gateway/internal/engine"
	"order-gateway/internal/order"
	"order-gateway/internal/session"
	"order-gateway/pkg/i18n"
)

type orderPayload struct {
	ID       string          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Side     string          `json:"side"`
}

type requestPayload struct {
	Type  string       `json:"type"`
	Order orderPayload `json:"order"`
}

type configPayload struct {
	MaxOrdersPerCycle int    `json:"max_orders_per_cycle"`
	SessionStart      string `json:"session_start"`
	SessionEnd        string `json:"session_end"`
	Timezone          string `json:"timezone"`
	ResponseTimeout   string `json:"response_timeout"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondRejected maps a gateway rejection to its HTTP status.
func respondRejected(c *gin.Context, err error) {
	reason := order.ReasonOf(err)
	status := http.StatusInternalServerError
	msg := i18n.M().Internal
	switch reason {
	case order.ReasonMarketClosed:
		status, msg = http.StatusConflict, i18n.M().MarketClosed
	case order.ReasonDuplicateID:
		status, msg = http.StatusConflict, i18n.M().DuplicateOrderID
	case order.ReasonOrderNotFound:
		status, msg = http.StatusNotFound, i18n.M().OrderNotFound
	case order.ReasonInvalidOrder:
		status, msg = http.StatusBadRequest, i18n.M().InvalidOrder
	}
	c.JSON(status, gin.H{
		"code":   string(reason),
		"error":  msg,
		"detail": err.Error(),
	})
}

// toOrder converts the payload. An unrecognised side is passed through
// verbatim so the gateway reports it in its own rejection order.
func (p orderPayload) toOrder() order.Order {
	o := order.Order{ID: strings.TrimSpace(p.ID), Price: p.Price, Quantity: p.Quantity, Side: order.Side(p.Side)}
	if side, err := order.ParseSide(p.Side); err == nil {
		o.Side = side
	}
	return o
}

func (s *Server) submit(c *gin.Context, typ order.RequestType, o order.Order, status int) {
	if err := s.Gateway.SubmitOrder(c.Request.Context(), typ, o); err != nil {
		respondRejected(c, err)
		return
	}
	c.JSON(status, gin.H{"status": "ok", "request": typ, "order_id": o.ID})
}

// submitNew queues a new order.
func (s *Server) submitNew(c *gin.Context) {
	var req orderPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", i18n.M().InvalidRequestBody)
		return
	}
	s.submit(c, order.RequestNew, req.toOrder(), http.StatusAccepted)
}

// modifyOrder amends price and quantity of a pending order.
func (s *Server) modifyOrder(c *gin.Context) {
	var req orderPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", i18n.M().InvalidRequestBody)
		return
	}
	req.ID = c.Param("id")
	s.submit(c, order.RequestModify, req.toOrder(), http.StatusOK)
}

func (s *Server) cancelOrder(c *gin.Context) {
	s.submit(c, order.RequestCancel, order.Order{ID: c.Param("id")}, http.StatusOK)
}

// submitRequest accepts the generic {type, order} envelope.
func (s *Server) submitRequest(c *gin.Context) {
	var req requestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", i18n.M().InvalidRequestBody)
		return
	}
	typ, err := order.ParseRequestType(req.Type)
	if err != nil {
		respondRejected(c, err)
		return
	}
	status := http.StatusOK
	if typ == order.RequestNew {
		status = http.StatusAccepted
	}
	s.submit(c, typ, req.Order.toOrder(), status)
}

// putConfig replaces the runtime policy. Omitted fields keep their value.
func (s *Server) putConfig(c *gin.Context) {
	var req configPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", i18n.M().InvalidRequestBody)
		return
	}
	cfg, err := mergeConfig(s.Gateway.Config(), req)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}
	if err := s.Gateway.Configure(cfg); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.Gateway.Status())
}

func mergeConfig(cfg engine.Config, req configPayload) (engine.Config, error) {
	if req.MaxOrdersPerCycle != 0 {
		cfg.MaxOrdersPerCycle = req.MaxOrdersPerCycle
	}
	if req.SessionStart != "" {
		m, err := session.ParseMinuteOfDay(req.SessionStart)
		if err != nil {
			return cfg, err
		}
		cfg.SessionStart = m
	}
	if req.SessionEnd != "" {
		m, err := session.ParseMinuteOfDay(req.SessionEnd)
		if err != nil {
			return cfg, err
		}
		cfg.SessionEnd = m
	}
	if req.Timezone != "" {
		loc, err := time.LoadLocation(req.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("timezone %q: %w", req.Timezone, err)
		}
		cfg.Location = loc
	}
	if req.ResponseTimeout != "" {
		d, err := time.ParseDuration(req.ResponseTimeout)
		if err != nil {
			return cfg, fmt.Errorf("response timeout %q: %w", req.ResponseTimeout, err)
		}
		cfg.ResponseTimeout = d
	}
	return cfg, nil
}

// --- Queries ---

func (s *Server) getSession(c *gin.Context) {
	st := s.Gateway.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":    st.Session,
		"open":     st.Open,
		"window":   st.Window,
		"timezone": st.Timezone,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Gateway.Status())
}

func (s *Server) listPending(c *gin.Context) {
	orders := s.Gateway.PendingOrders()
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) getPending(c *gin.Context) {
	o, ok := s.Gateway.PendingOrder(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, string(order.ReasonOrderNotFound), i18n.M().OrderNotFound)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) listInFlight(c *gin.Context) {
	recs := s.Gateway.InFlight()
	c.JSON(http.StatusOK, gin.H{"inflight": recs, "count": len(recs)})
}

const (
	defaultResponsesLimit = 100
	maxResponsesLimit     = 1000
)

// listResponses returns the most recent response log entries, oldest first.
// ?limit= bounds the page (default 100, max 1000); total is the full log size.
func (s *Server) listResponses(c *gin.Context) {
	limit := defaultResponsesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxResponsesLimit)
	}

	entries := s.Gateway.Responses()
	total := len(entries)
	if total > limit {
		entries = entries[total-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"responses": entries, "count": len(entries), "total": total})
}

// getMetrics returns gateway metrics.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getPromMetrics returns a minimal Prometheus text exposition of key metrics.
func (s *Server) getPromMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.String(http.StatusServiceUnavailable, "# metrics not available\n")
		return
	}
	snapshot := s.Metrics.GetSnapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "gateway_orders_queued_total %d\n", snapshot.Queued)
	fmt.Fprintf(&b, "gateway_orders_amended_total %d\n", snapshot.Amended)
	fmt.Fprintf(&b, "gateway_orders_cancelled_total %d\n", snapshot.Cancelled)
	fmt.Fprintf(&b, "gateway_orders_rejected_total %d\n", snapshot.Rejected)
	reasons := make([]string, 0, len(snapshot.RejectedByReason))
	for reason := range snapshot.RejectedByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(&b, "gateway_orders_rejected_by_reason_total{reason=%q} %d\n", reason, snapshot.RejectedByReason[reason])
	}
	fmt.Fprintf(&b, "gateway_orders_dispatched_total %d\n", snapshot.Dispatched)
	fmt.Fprintf(&b, "gateway_venue_accepts_total %d\n", snapshot.Accepted)
	fmt.Fprintf(&b, "gateway_venue_rejects_total %d\n", snapshot.VenueRejected)
	fmt.Fprintf(&b, "gateway_orders_expired_total %d\n", snapshot.Expired)
	fmt.Fprintf(&b, "gateway_venue_anomalies_total %d\n", snapshot.Anomalies)

	open := 0
	if snapshot.SessionOpen {
		open = 1
	}
	fmt.Fprintf(&b, "gateway_session_open %d\n", open)

	lat := snapshot.ResponseLatency
	fmt.Fprintf(&b, "gateway_response_latency_ms{quantile=\"0.5\"} %f\n", lat.P50)
	fmt.Fprintf(&b, "gateway_response_latency_ms{quantile=\"0.95\"} %f\n", lat.P95)
	fmt.Fprintf(&b, "gateway_response_latency_ms{quantile=\"0.99\"} %f\n", lat.P99)
	fmt.Fprintf(&b, "gateway_response_latency_ms_count %d\n", lat.Count)

	fmt.Fprintf(&b, "gateway_goroutines %d\n", snapshot.GoroutineCount)
	fmt.Fprintf(&b, "gateway_heap_alloc_bytes %d\n", snapshot.HeapAlloc)

	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.String(http.StatusOK, b.String())
}
