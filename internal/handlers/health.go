package handlers

import (
	"net/http"

	"github.com/gluk-w/webssh/internal/database"
	"github.com/gluk-w/webssh/internal/sshproxy"
)

// Registry is consulted for the open connection count. Set by main.
var Registry *sshproxy.Registry

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	connections := 0
	if Registry != nil {
		connections = Registry.Len()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"database":        dbStatus,
		"ssh_connections": connections,
	})
}
