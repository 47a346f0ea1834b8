package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/FleetAI/fleet-console/internal/store"
	"github.com/FleetAI/fleet-console/pkg/types"
)

var allowedWidgetTypes = func() string {
	names := make([]string, len(types.WidgetTypes))
	for i, t := range types.WidgetTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}()

// parseAddWidgetArgs validates arguments for fleet_add_widget.
// The input comes from the assistant, so every error says how to correct it.
func parseAddWidgetArgs(args map[string]any) (store.NewWidget, error) {
	raw, _ := args["widgetType"].(string)
	if raw == "" {
		return store.NewWidget{}, fmt.Errorf(
			"\"widgetType\" is required. Supported values: %s. "+
				"Tip: for a single number use {\"widgetType\": \"kpi_card\"}", allowedWidgetTypes)
	}
	wt, err := types.ParseWidgetType(raw)
	if err != nil {
		return store.NewWidget{}, fmt.Errorf("%v. Supported values: %s", err, allowedWidgetTypes)
	}

	spec := store.NewWidget{Type: wt}
	spec.Title, _ = args["title"].(string)

	if spec.Config, err = configArg(args); err != nil {
		return store.NewWidget{}, err
	}
	if spec.Position, err = positionArg(args, nil); err != nil {
		return store.NewWidget{}, err
	}
	if spec.RefreshInterval, err = nonNegativeIntArg(args, "refreshInterval", 0); err != nil {
		return store.NewWidget{}, err
	}
	return spec, nil
}

// parseUpdateWidgetArgs builds a patch from the fields present in args.
func parseUpdateWidgetArgs(args map[string]any) (store.WidgetPatch, error) {
	var p store.WidgetPatch
	if raw, ok := args["widgetType"].(string); ok && raw != "" {
		wt, err := types.ParseWidgetType(raw)
		if err != nil {
			return p, fmt.Errorf("%v. Supported values: %s", err, allowedWidgetTypes)
		}
		p.Type = &wt
	}
	if title, ok := args["title"].(string); ok && title != "" {
		p.Title = &title
	}

	var err error
	if p.Config, err = configArg(args); err != nil {
		return p, err
	}
	if _, ok := args["refreshInterval"]; ok {
		n, err := nonNegativeIntArg(args, "refreshInterval", 0)
		if err != nil {
			return p, err
		}
		p.RefreshInterval = &n
	}

	if p.Type == nil && p.Title == nil && p.Config == nil && p.RefreshInterval == nil {
		return p, fmt.Errorf("nothing to update: provide at least one of \"widgetType\", \"title\", \"config\" or \"refreshInterval\"")
	}
	return p, nil
}

// configArg decodes the optional "config" object into a WidgetConfig.
func configArg(args map[string]any) (*types.WidgetConfig, error) {
	raw, ok := args["config"]
	if !ok || raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok {
		if s == "" {
			return nil, nil
		}
		raw = json.RawMessage(s)
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid \"config\": %w", err)
	}
	var cfg types.WidgetConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf(
			"invalid \"config\": %v. Expected an object like "+
				"{\"dataset\": \"trips\", \"metric\": \"distance_km\", \"dimensions\": [\"depot\"]}", err)
	}
	return &cfg, nil
}

// positionArg reads x, y, w and h. It returns nil when none is given; when
// base is set, missing fields keep its values.
func positionArg(args map[string]any, base *types.Position) (*types.Position, error) {
	keys := []string{"x", "y", "w", "h"}
	present := false
	for _, k := range keys {
		if _, ok := args[k]; ok {
			present = true
		}
	}
	if !present {
		return nil, nil
	}

	var p types.Position
	if base != nil {
		p = *base
	} else {
		p = types.Position{W: 4, H: 4}
	}
	dst := []*int{&p.X, &p.Y, &p.W, &p.H}
	for i, k := range keys {
		n, err := nonNegativeIntArg(args, k, *dst[i])
		if err != nil {
			return nil, err
		}
		*dst[i] = n
	}
	return &p, nil
}

func intArg(args map[string]any, key string, defaultVal int) (int, error) {
	n, ok, err := numberArg(args, key)
	if err != nil || !ok {
		return defaultVal, err
	}
	if n <= 0 {
		return defaultVal, nil
	}
	return n, nil
}

func nonNegativeIntArg(args map[string]any, key string, defaultVal int) (int, error) {
	n, ok, err := numberArg(args, key)
	if err != nil || !ok {
		return defaultVal, err
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %q value %d: must be >= 0", key, n)
	}
	return n, nil
}

// numberArg accepts numbers and numeric strings; assistants send either.
func numberArg(args map[string]any, key string) (int, bool, error) {
	switch v := args[key].(type) {
	case nil:
		return 0, false, nil
	case float64:
		return int(v), true, nil
	case int:
		return v, true, nil
	case string:
		if v == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %q value %q: must be a number", key, v)
		}
		return n, true, nil
	}
	return 0, false, fmt.Errorf("invalid %q value %v: must be a number", key, args[key])
}

// idArg reads a required entity id. Unsaved widgets have negative ids.
func idArg(args map[string]any, key string) (int64, error) {
	var id int64
	switch v := args[key].(type) {
	case float64:
		id = int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf(`Parameter validation failed: %q must be a numeric id, got %q`, key, v)
		}
		id = n
	case nil:
		return 0, fmt.Errorf(`Parameter validation failed: %q is required`, key)
	default:
		return 0, fmt.Errorf(`Parameter validation failed: %q must be a numeric id`, key)
	}
	return id, nil
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}
