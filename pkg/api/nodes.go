package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/types"
)

func (s *Server) joinNode(c echo.Context) error {
	var node types.Node
	if err := c.Bind(&node); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	if err := s.manager.JoinNode(&node); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, node)
}

func (s *Server) listNodes(c echo.Context) error {
	filter := &manager.NodeFilter{
		Role:            types.NodeRole(c.QueryParam("role")),
		Status:          types.NodeStatus(c.QueryParam("status")),
		SchedulableOnly: c.QueryParam("schedulable") == "true",
	}
	nodes, err := s.manager.ListNodes(filter)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, nodes)
}

func (s *Server) getNode(c echo.Context) error {
	node, err := s.manager.GetNode(c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, node)
}

func (s *Server) heartbeat(c echo.Context) error {
	if err := s.manager.Heartbeat(c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) drainNode(c echo.Context) error {
	if err := s.manager.DrainNode(c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) leaveNode(c echo.Context) error {
	if err := s.manager.LeaveNode(c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}
