package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// parseListFilter implements the spec.md §6 pagination/sort/filter query
// contract shared by every list endpoint: page (1-based), limit (default
// 50, max 100 — enforced by store.ListFilter.Normalize), and sort as
// repeated field:direction pairs. Resource-specific filters are parsed by
// each handler and merged onto the returned filter.
func parseListFilter(c *gin.Context) store.ListFilter {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var sorts []store.SortKey
	for _, raw := range c.QueryArray("sort") {
		field, dir, found := strings.Cut(raw, ":")
		if !found {
			field, dir = raw, "asc"
		}
		sorts = append(sorts, store.SortKey{Field: field, Ascending: dir != "desc"})
	}

	f := store.ListFilter{Page: page, Limit: limit, Sort: sorts}
	f.Normalize()
	return f
}

// applyCommonFilters reads the vendor_id/status/date_from/date_to/
// amount_from/amount_to query params shared across invoices, purchase
// orders, and exceptions (spec §4 resource-specific filters, all
// server-side and conjunctive).
func applyCommonFilters(c *gin.Context, f *store.ListFilter) {
	if v := c.Query("vendor_id"); v != "" {
		id := models.VendorID(v)
		f.VendorID = &id
	}
	if v := c.Query("status"); v != "" {
		f.Status = v
	}
	if v := c.Query("date_from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.DateFrom = &t
		}
	}
	if v := c.Query("date_to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.DateTo = &t
		}
	}
	if v := c.Query("amount_from"); v != "" {
		if cents, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.AmountFrom = &cents
		}
	}
	if v := c.Query("amount_to"); v != "" {
		if cents, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.AmountTo = &cents
		}
	}
}

// pageEnvelope is the spec §6 list-response envelope: data plus
// total/page/limit.
type pageEnvelope struct {
	Data  any `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func envelope[T any](page store.Page[T]) pageEnvelope {
	return pageEnvelope{Data: page.Data, Total: page.Total, Page: page.Page, Limit: page.Limit}
}

// parseISODate parses a spec.md §6 ISO 8601 calendar date ("2026-01-15").
func parseISODate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
