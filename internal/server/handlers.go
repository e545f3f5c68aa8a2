package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/francyfox/sqstat/internal/metrics"
	"github.com/francyfox/sqstat/internal/store"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleAccessLogs serves paged raw records, newest first.
func (s *Server) handleAccessLogs(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		return badRequest(c, "limit must be at most 100")
	}

	q := store.NewQuery()
	if search := c.Query("search"); search != "" {
		q.Text("url", search)
	}

	var fields []string
	if raw := c.Query("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}

	res, err := s.index.Search(c.Context(), q.String(), store.SearchOptions{
		Offset: (page - 1) * limit,
		Limit:  limit,
		SortBy: "timestamp",
		Desc:   true,
		Return: fields,
	})
	if err != nil {
		s.log.Error("access log search failed", "error", err)
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"total": res.Total,
		"page":  page,
		"items": res.Docs,
	})
}

// handleMetrics merges per-client totals, user profiles, and the overview
// rollup into one response.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	tr, err := timeRange(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	totals, err := s.metrics.TotalSum(c.Context(), metrics.TotalSumOptions{
		Fresh:     c.QueryBool("fresh", false),
		StartTime: tr.StartTime,
		EndTime:   tr.EndTime,
	})
	if err != nil {
		s.log.Error("total sum failed", "error", err)
		return internalError(c)
	}

	users, err := s.metrics.UsersInfo(c.Context(), totals.Items)
	if err != nil {
		s.log.Error("users info failed", "error", err)
		return internalError(c)
	}

	overview, err := s.metrics.Overview(c.Context(), totals.Items, tr)
	if err != nil {
		s.log.Error("overview failed", "error", err)
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"count":         totals.Count,
		"users":         users,
		"globalStates":  overview.GlobalStates,
		"currentStates": overview.CurrentStates,
	})
}

// handleDomains serves the per-domain rollup with validated paging params.
func (s *Server) handleDomains(c *fiber.Ctx) error {
	tr, err := timeRange(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 {
		return badRequest(c, "limit must be positive")
	}
	if limit > maxPageSize {
		return badRequest(c, "limit must be at most 100")
	}
	page := c.QueryInt("page", 1)
	if page < 1 {
		return badRequest(c, "page must be positive")
	}

	sortOrder := c.Query("sortOrder", "desc")
	if sortOrder != "asc" && sortOrder != "desc" {
		return badRequest(c, "sortOrder must be asc or desc")
	}

	res, err := s.metrics.DomainsInfo(c.Context(), metrics.DomainsOptions{
		Search:    c.Query("search"),
		Limit:     limit,
		Page:      page,
		SortBy:    c.Query("sortBy"),
		SortOrder: sortOrder,
		StartTime: tr.StartTime,
		EndTime:   tr.EndTime,
	})
	if err != nil {
		s.log.Error("domains info failed", "error", err)
		return internalError(c)
	}
	return c.JSON(res)
}

func timeRange(c *fiber.Ctx) (metrics.TimeRange, error) {
	start := int64(c.QueryInt("startTime", 0))
	end := int64(c.QueryInt("endTime", 0))
	if start < 0 || end < 0 {
		return metrics.TimeRange{}, fiber.NewError(fiber.StatusBadRequest, "time bounds must be non-negative")
	}
	if start > 0 && end > 0 && start > end {
		return metrics.TimeRange{}, fiber.NewError(fiber.StatusBadRequest, "startTime must not exceed endTime")
	}
	return metrics.TimeRange{StartTime: start, EndTime: end}, nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
