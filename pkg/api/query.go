package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// query serves raw samples for one metric over a time range. Query
// parameters other than metric, from, and to are treated as label
// selectors, e.g. /v1/query?metric=cpu_usage&service=api&from=...
func (s *Server) query(c echo.Context) error {
	metric := c.QueryParam("metric")
	if metric == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "metric parameter is required"})
	}

	now := time.Now()
	from := now.Add(-time.Hour)
	to := now

	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err))
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err))
		}
		to = t
	}

	selector := make(map[string]string)
	for k, vs := range c.QueryParams() {
		if k == "metric" || k == "from" || k == "to" {
			continue
		}
		if len(vs) > 0 {
			selector[k] = vs[0]
		}
	}

	samples := s.ts.Query(metric, selector, from, to)
	return c.JSON(http.StatusOK, samples)
}

func (s *Server) metricNames(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ts.MetricNames())
}

func (s *Server) targets(c echo.Context) error {
	if s.engine == nil {
		return c.JSON(http.StatusOK, []struct{}{})
	}
	return c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) recentEvents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.Broker().Recent())
}
