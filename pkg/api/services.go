package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cuemby/burrow/pkg/types"
)

func (s *Server) applyService(c echo.Context) error {
	var spec types.Service
	if err := c.Bind(&spec); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}

	service, changed, err := s.manager.ApplyService(&spec)
	if err != nil {
		return httpError(c, err)
	}

	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	return c.JSON(status, service)
}

func (s *Server) listServices(c echo.Context) error {
	services, err := s.manager.ListServices()
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, services)
}

func (s *Server) getService(c echo.Context) error {
	service, err := s.manager.GetServiceByName(c.Param("name"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, service)
}

func (s *Server) removeService(c echo.Context) error {
	if err := s.manager.RemoveService(c.Param("name")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type scaleRequest struct {
	Replicas int `json:"replicas"`
}

func (s *Server) scaleService(c echo.Context) error {
	var req scaleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	if err := s.manager.ScaleService(c.Param("name"), req.Replicas); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) serviceEndpoints(c echo.Context) error {
	endpoints, err := s.resolver.Resolve(c.Param("name"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, endpoints)
}

func (s *Server) serviceTasks(c echo.Context) error {
	service, err := s.manager.GetServiceByName(c.Param("name"))
	if err != nil {
		return httpError(c, err)
	}
	tasks, err := s.manager.ListTasksByService(service.ID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) listTasks(c echo.Context) error {
	if nodeID := c.QueryParam("node"); nodeID != "" {
		tasks, err := s.manager.ListTasksByNode(nodeID)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, tasks)
	}

	tasks, err := s.manager.ListTasks()
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, tasks)
}
