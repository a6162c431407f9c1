package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cuemby/burrow/pkg/types"
)

func (s *Server) putAlertRule(c echo.Context) error {
	var rule types.AlertRule
	if err := c.Bind(&rule); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	if err := s.manager.PutAlertRule(&rule); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) listAlertRules(c echo.Context) error {
	rules, err := s.manager.ListAlertRules()
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, rules)
}

func (s *Server) deleteAlertRule(c echo.Context) error {
	if err := s.manager.DeleteAlertRule(c.Param("name")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// listAlerts returns live alert instances, optionally filtered by state
func (s *Server) listAlerts(c echo.Context) error {
	alerts := s.evaluator.Alerts()

	if state := c.QueryParam("state"); state != "" {
		filtered := alerts[:0]
		for _, a := range alerts {
			if string(a.State) == state {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}
	return c.JSON(http.StatusOK, alerts)
}
