package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/FleetAI/fleet-console/pkg/timeutil"
	"github.com/FleetAI/fleet-console/pkg/types"
)

// FilterRequest holds the parsed parameters of fleet_set_filters.
type FilterRequest struct {
	Filters   types.FilterSet
	DateRange *types.DateRange
	// Merge keeps existing filters and overrides only the given keys.
	Merge bool
	Clear []string
}

func parseFilterArgs(args map[string]any, now time.Time) (*FilterRequest, error) {
	req := &FilterRequest{Merge: boolArg(args, "merge")}

	filters, err := objectArg(args, "filters")
	if err != nil {
		return nil, err
	}
	req.Filters = types.FilterSet(filters)

	switch v := args["clear"].(type) {
	case string:
		if v != "" {
			req.Clear = []string{v}
		}
	case []any:
		for _, k := range v {
			if s, ok := k.(string); ok && s != "" {
				req.Clear = append(req.Clear, s)
			}
		}
	}

	req.DateRange, err = timeutil.ResolveDateRange(args, now)
	if err != nil {
		return nil, fmt.Errorf("invalid time range: %w. Use timeRange like \"24h\" or \"7d\", or start/end as RFC3339", err)
	}
	return req, nil
}

// objectArg reads a JSON object given either as an object or as a JSON string.
func objectArg(args map[string]any, key string) (map[string]any, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("invalid %q: must be a JSON object, e.g. {\"depot\": \"north\"}", key)
		}
		return out, nil
	}
	return nil, fmt.Errorf("invalid %q: must be a JSON object, e.g. {\"depot\": \"north\"}", key)
}
