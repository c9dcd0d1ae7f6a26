package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type credentials struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var creds credentials
	if err := c.ShouldBind(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid credentials"})
		return
	}
	token, err := s.deps.Auth.Login(creds.Username, creds.Password)
	if err != nil {
		s.requestLogger(c).Warn("login rejected", "username", creds.Username)
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Login successful", "token": token})
}

func (s *Server) handleCheckAuth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"detail": "Authenticated"})
}
