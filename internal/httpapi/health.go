package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/intellirouter/intellirouter/internal/registry"
)

// componentStatus is one entry of GET /health's components list.
type componentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// healthDocument is the structured health body spec §6 describes:
// {status: healthy|degraded|unhealthy, components: [...]}.
type healthDocument struct {
	Status     string             `json:"status"`
	Components []componentStatus  `json:"components"`
}

// handleHealth implements GET /health.
func handleHealth(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		components := []componentStatus{registryComponent(deps.Registry)}

		if deps.Redis != nil {
			if err := deps.Redis.Ping(c.Request.Context()); err != nil {
				components = append(components, componentStatus{Name: "redis", Status: "unhealthy"})
			} else {
				components = append(components, componentStatus{Name: "redis", Status: "healthy"})
			}
		}

		doc := healthDocument{Status: overallStatus(components), Components: components}
		c.JSON(http.StatusOK, doc)
	}
}

func registryComponent(reg *registry.Registry) componentStatus {
	models := reg.List(registry.Filter{})
	if len(models) == 0 {
		return componentStatus{Name: "model_registry", Status: "degraded"}
	}
	healthy := 0
	for _, m := range models {
		if m.Health == registry.Healthy {
			healthy++
		}
	}
	switch {
	case healthy == len(models):
		return componentStatus{Name: "model_registry", Status: "healthy"}
	case healthy == 0:
		return componentStatus{Name: "model_registry", Status: "unhealthy"}
	default:
		return componentStatus{Name: "model_registry", Status: "degraded"}
	}
}

func overallStatus(components []componentStatus) string {
	worst := "healthy"
	for _, comp := range components {
		switch comp.Status {
		case "unhealthy":
			return "unhealthy"
		case "degraded":
			worst = "degraded"
		}
	}
	return worst
}
