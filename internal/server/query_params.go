package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// rangeEdge says which end of a day a date-only value snaps to.
type rangeEdge int

const (
	rangeStart rangeEdge = iota
	rangeEnd
)

// parseTimeField accepts RFC 3339 or a bare date. A bare date covers the whole
// UTC day, so an end bound of 2026-03-31 includes events at 23:59:59.
func parseTimeField(field, value string, edge rangeEdge) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, value, time.UTC)
	if err != nil {
		return nil, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	if edge == rangeEnd {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}

func queryBool(c *gin.Context, field string) (*bool, error) {
	raw := strings.TrimSpace(c.Query(field))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return &v, nil
}

// queryLimit returns 0 when absent; negative or non-numeric values fail.
func queryLimit(c *gin.Context) (int, error) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, newValidationError("limit", "invalid_limit", "invalid limit")
	}
	return n, nil
}

// parseIDParam reads a snowflake path parameter. Malformed ids are reported
// as not found so probing reveals nothing.
func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id == 0 {
		return 0, ErrNotFound
	}
	return id, nil
}
