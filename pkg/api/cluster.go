package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type clusterJoinRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// clusterJoin adds a manager to the Raft cluster. Must be handled by the
// leader.
func (s *Server) clusterJoin(c echo.Context) error {
	var req clusterJoinRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	if req.NodeID == "" || req.Address == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "node_id and address are required"})
	}
	if err := s.manager.AddVoter(req.NodeID, req.Address); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) clusterLeader(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"leader":    s.manager.LeaderAddr(),
		"is_leader": s.manager.IsLeader(),
	})
}
