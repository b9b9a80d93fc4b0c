package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/torosent/tickstat/internal/metrics"
)

// ErrInvalidParameter is returned for query parameters that cannot be parsed.
var ErrInvalidParameter = errors.New("invalid parameter")

// HistoryResponse is the body of GET /api/stats/history.
type HistoryResponse struct {
	Type         metrics.MeasurementType `json:"type"`
	Capacity     int                     `json:"capacity"`
	From         int                     `json:"from"`
	Count        int                     `json:"count"`
	LastInterval time.Time               `json:"last_interval"`
	Snapshots    []metrics.Snapshot      `json:"snapshots"`
}

type historyQuery struct {
	typ   metrics.MeasurementType
	from  int
	limit int
	since time.Time
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Summary())
}

func (s *Server) handleHistory(c *gin.Context) {
	q, err := parseHistoryQuery(c)
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}

	var snaps []metrics.Snapshot
	if q.since.IsZero() {
		snaps, err = s.engine.History(q.typ, q.from, q.limit)
	} else {
		snaps, err = s.engine.HistorySince(q.typ, q.since, q.limit)
	}
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	capacity, _ := s.engine.Capacity(q.typ)

	resp := HistoryResponse{
		Type:      q.typ,
		Capacity:  capacity,
		From:      q.from,
		Count:     len(snaps),
		Snapshots: snaps,
	}
	if n := len(snaps); n > 0 {
		resp.LastInterval = snaps[n-1].Start
	}
	c.JSON(http.StatusOK, resp)
}

func parseHistoryQuery(c *gin.Context) (historyQuery, error) {
	var q historyQuery

	raw, ok := c.GetQuery("type")
	if !ok || raw == "" {
		return q, fmt.Errorf("%w: type is required", ErrInvalidParameter)
	}
	typ, err := metrics.ParseMeasurementType(raw)
	if err != nil {
		return q, err
	}
	q.typ = typ

	if q.from, _, err = uintParam(c, "from"); err != nil {
		return q, err
	}
	limit, hasLimit, err := uintParam(c, "limit")
	if err != nil {
		return q, err
	}
	q.limit = metrics.Unlimited
	if hasLimit {
		q.limit = limit
	}

	if raw, ok := c.GetQuery("since"); ok {
		if _, hasFrom := c.GetQuery("from"); hasFrom {
			return q, fmt.Errorf("%w: since cannot be combined with from", ErrInvalidParameter)
		}
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("%w: since must be an RFC3339 timestamp", ErrInvalidParameter)
		}
		q.since = since
	}
	return q, nil
}

// uintParam parses an optional non-negative integer query parameter and
// reports whether it was present.
func uintParam(c *gin.Context, name string) (int, bool, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(raw, 10, strconv.IntSize-1)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidParameter, name)
	}
	return int(n), true, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, metrics.ErrUnknownMeasurementType), errors.Is(err, ErrInvalidParameter):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
