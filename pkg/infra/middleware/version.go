package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/version"
)

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	ServiceName string `json:"service_name,omitempty"`
	GitVersion  string `json:"git_version"`
	GitCommit   string `json:"git_commit,omitempty"`
	BuildDate   string `json:"build_date,omitempty"`
	GoVersion   string `json:"go_version,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// Version serves build information from github.com/kart-io/version.
func Version() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := version.Get()
		c.JSON(http.StatusOK, VersionResponse{
			ServiceName: info.ServiceName,
			GitVersion:  info.GitVersion,
			GitCommit:   info.GitCommit,
			BuildDate:   info.BuildDate,
			GoVersion:   info.GoVersion,
			Platform:    info.Platform,
		})
	}
}
