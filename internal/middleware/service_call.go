package middleware

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/fluxbase-eu/bundlebridge/internal/webpack"
)

// serviceCall is what the logger and tracer know about a POST /service/:name.
// Only valid once the route has matched, i.e. after c.Next.
type serviceCall struct {
	service string
	request *webpack.ServiceRequest // nil when the body is not a bundle request
}

func serviceCallOf(c *fiber.Ctx) (serviceCall, bool) {
	name := c.Params("name")
	if name == "" {
		return serviceCall{}, false
	}

	call := serviceCall{service: utils.CopyString(name)}
	var req webpack.ServiceRequest
	if err := json.Unmarshal(c.Body(), &req); err == nil && req.Config != "" {
		call.request = &req
	}
	return call, true
}

// statsSummary counts the parts of a compiler response
type statsSummary struct {
	assets, errors, warnings int
}

func summarizeStats(body []byte) (statsSummary, bool) {
	var stats struct {
		Assets   []json.RawMessage `json:"assets"`
		Errors   []string          `json:"errors"`
		Warnings []string          `json:"warnings"`
	}
	if err := json.Unmarshal(body, &stats); err != nil || stats.Assets == nil {
		return statsSummary{}, false
	}
	return statsSummary{
		assets:   len(stats.Assets),
		errors:   len(stats.Errors),
		warnings: len(stats.Warnings),
	}, true
}
