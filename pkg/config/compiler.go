package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Limit is a per-connection request budget: Count requests per Per.
type Limit struct {
	Count int
	Per   time.Duration
}

func (l Limit) String() string {
	unit := "s"
	switch l.Per {
	case time.Minute:
		unit = "m"
	case time.Hour:
		unit = "h"
	}
	return fmt.Sprintf("%d/%s", l.Count, unit)
}

// ParseLimit parses strings such as "10/m".
func ParseLimit(raw string) (Limit, error) {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) != 2 {
		return Limit{}, fmt.Errorf("invalid rate limit format: %s", raw)
	}

	count, err := strconv.Atoi(parts[0])
	if err != nil || count <= 0 {
		return Limit{}, fmt.Errorf("invalid rate limit count: %s", parts[0])
	}

	var per time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		per = time.Second
	case "m":
		per = time.Minute
	case "h":
		per = time.Hour
	default:
		return Limit{}, fmt.Errorf("invalid rate limit duration unit: %s", parts[1])
	}
	return Limit{Count: count, Per: per}, nil
}

// CompileLimits validates every configured limit. Keys are lower-cased, as
// viper does for map keys read from files.
func CompileLimits(raw map[string]string) (map[string]Limit, error) {
	limits := make(map[string]Limit, len(raw))
	for requestType, rawLimit := range raw {
		limit, err := ParseLimit(rawLimit)
		if err != nil {
			return nil, fmt.Errorf("limit for request '%s': %w", requestType, err)
		}
		limits[strings.ToLower(requestType)] = limit
	}
	return limits, nil
}
