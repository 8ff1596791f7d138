package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/oms"
	"main/internal/schema"
	"main/internal/tca"
	"main/internal/validate"
	"main/pkg/exception"
)

// Handler serves the order execution HTTP surface.
type Handler struct {
	validator *validate.Validator
	manager   *oms.Manager
	store     *ledger.Store
	reporter  *tca.Reporter
	metrics   *obs.Metrics
}

// NewRouter wires the gin routes.
func NewRouter(validator *validate.Validator, manager *oms.Manager, store *ledger.Store, reporter *tca.Reporter, metrics *obs.Metrics) *gin.Engine {
	h := &Handler{
		validator: validator,
		manager:   manager,
		store:     store,
		reporter:  reporter,
		metrics:   metrics,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	ids := obs.NewRequestIDs(0)
	r.Use(func(c *gin.Context) {
		c.Header("X-Request-Id", ids.Next())
		c.Next()
	})
	r.POST("/orders", h.createOrder)
	r.DELETE("/orders/:id", h.cancelOrder)
	r.GET("/orders/:id", h.getOrder)
	r.GET("/orders/:id/trades", h.getTrades)
	r.GET("/orders/:id/events", h.getEvents)
	r.GET("/orders/:id/tca", h.getTCA)
	r.GET("/healthz", h.health)
	r.GET("/metrics", h.getMetrics)
	return r
}

func (h *Handler) createOrder(c *gin.Context) {
	var intent schema.OrderIntent
	if err := c.ShouldBindJSON(&intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	order, err := h.validator.Validate(c.Request.Context(), intent)
	h.metrics.ObserveValidate(time.Since(start))
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			status := http.StatusUnprocessableEntity
			if verr.Reason == schema.ReasonDuplicateOrder {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error(), "reason": verr.Reason})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	start = time.Now()
	err = h.manager.Submit(c.Request.Context(), order)
	h.metrics.ObserveSubmit(time.Since(start))
	if err != nil {
		if errors.Is(err, exception.ErrOrderDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": schema.ReasonDuplicateOrder})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	err := h.manager.Cancel(c.Request.Context(), id)
	switch {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, exception.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, exception.ErrOrderAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) getOrder(c *gin.Context) {
	id := c.Param("id")
	// The working set answers for live orders; settled orders come from the
	// ledger.
	if order, err := h.manager.Order(c.Request.Context(), id); err == nil {
		c.JSON(http.StatusOK, order)
		return
	}
	order, err := h.store.Order(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, exception.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getTrades(c *gin.Context) {
	trades, err := h.store.Trades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (h *Handler) getEvents(c *gin.Context) {
	events, err := h.store.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) getTCA(c *gin.Context) {
	bench := tca.Benchmarks{
		IntervalVWAP: queryDecimal(c, "vwap"),
		IntervalTWAP: queryDecimal(c, "twap"),
		ClosePrice:   queryDecimal(c, "close"),
		ArrivalMid:   queryDecimal(c, "arrivalMid"),
	}
	report, err := h.reporter.Report(c.Request.Context(), c.Param("id"), bench)
	if err != nil {
		if errors.Is(err, exception.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, exception.ErrOrderNotTerminal) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, exception.ErrOrderInvalidFill) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func queryDecimal(c *gin.Context, key string) decimal.Decimal {
	raw := c.Query(key)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
