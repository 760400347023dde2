package api

import (
	"net/http"
	"strings"

	"lesionlog/internal/model"

	"github.com/gin-gonic/gin"
)

func (s *Server) writeUsers(c *gin.Context, users []model.Profile, err error) {
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(users), "users": users})
}

// handleAllUsers GET /users/all
func (s *Server) handleAllUsers(c *gin.Context) {
	users, err := s.users.ListAll(c.Request.Context())
	s.writeUsers(c, users, err)
}

// handleUsersByRole GET /users/role/:role
func (s *Server) handleUsersByRole(c *gin.Context) {
	users, err := s.users.ListByRole(c.Request.Context(), c.Param("role"))
	s.writeUsers(c, users, err)
}

// handleUsersQuery GET /users?role=admin|user，不带 role 时返回全部。
func (s *Server) handleUsersQuery(c *gin.Context) {
	role := strings.TrimSpace(c.Query("role"))
	if role == "" {
		s.handleAllUsers(c)
		return
	}
	users, err := s.users.ListByRole(c.Request.Context(), role)
	s.writeUsers(c, users, err)
}

// handleUserStats GET /users/stats
func (s *Server) handleUserStats(c *gin.Context) {
	rc, err := s.users.RoleCounts(c.Request.Context())
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": rc})
}

// handleProfile GET /users/profile
func (s *Server) handleProfile(c *gin.Context) {
	p, err := s.users.Profile(c.Request.Context(), principal(c).UserID)
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": p})
}
