package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func boolQueryPtr(c *gin.Context, key string) *bool {
	if val := c.Query(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return &b
		}
	}
	return nil
}

func floatQueryPtr(c *gin.Context, key string) *float64 {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return &f
		}
	}
	return nil
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func csvQuery(c *gin.Context, key string) []string {
	var out []string
	for _, part := range strings.Split(c.Query(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func uintParam(c *gin.Context, key string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(key)), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func parseOrder(value string, allow map[string]string) string {
	key := strings.TrimSpace(strings.ToLower(value))
	if key == "" {
		return ""
	}
	if mapped, ok := allow[key]; ok {
		return mapped
	}
	return ""
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}

func boolPtr(v bool) *bool { return &v }
