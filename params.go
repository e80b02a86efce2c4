package avail

import (
	"fmt"
)

// Typed getters for the untyped source params map that comes out of the
// YAML config. yaml.v2 decodes nested maps as map[interface{}]interface{},
// so the map getters accept either form.

const ParamKeyHosts = "hosts"
const ParamKeyEndpoints = "endpoints"
const ParamKeyState = "state"
const ParamKeyName = "name"
const ParamKeyOverrides = "overrides"
const ParamKeyProvider = "provider"
const ParamKeyApiPath = "api_path"
const ParamKeyLocationType = "location_type"
const ParamKeyAvailabilityOnly = "availability_only"

func getMapRequired(parent map[string]interface{}, key string) (map[string]interface{}, error) {
	if _, exists := parent[key]; !exists {
		return nil, fmt.Errorf("Missing expected configuration key: %s", key)
	}

	typed, err := toStringKeyedMap(parent[key])
	if err != nil {
		return nil, fmt.Errorf("Expecting a map value for key %s: %v", key, err)
	}
	return typed, nil
}

func getMapOptional(parent map[string]interface{}, key string) map[string]interface{} {
	if _, exists := parent[key]; exists {
		if value, err := getMapRequired(parent, key); err == nil {
			return value
		} else {
			Log.Warnf("%v", err)
			return nil
		}
	}
	return nil
}

func toStringKeyedMap(value interface{}) (map[string]interface{}, error) {
	if typed, ok := value.(map[string]interface{}); ok {
		return typed, nil
	}

	untyped, ok := value.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("got '%T' instead", value)
	}

	typed := make(map[string]interface{}, len(untyped))
	for k, v := range untyped {
		typedKey, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("expecting string keys, got '%T' instead", k)
		}
		typed[typedKey] = v
	}
	return typed, nil
}

func getMapArrayRequired(parent map[string]interface{}, key string) ([]map[string]interface{}, error) {
	if _, exists := parent[key]; !exists {
		return nil, fmt.Errorf("Missing expected configuration key: %s", key)
	}

	untypedArr, ok := parent[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("Expecting an array value for key %s, got '%T' instead", key, parent[key])
	}

	typedArray := make([]map[string]interface{}, len(untypedArr))
	for idx, obj := range untypedArr {
		typed, err := toStringKeyedMap(obj)
		if err != nil {
			return nil, fmt.Errorf("Expecting map for index %d of array %s: %v", idx, key, err)
		}
		typedArray[idx] = typed
	}

	return typedArray, nil
}

func getMapArrayOptional(parent map[string]interface{}, key string) []map[string]interface{} {
	if _, exists := parent[key]; exists {
		if value, err := getMapArrayRequired(parent, key); err == nil {
			return value
		} else {
			Log.Warnf("%v", err)
			return nil
		}
	}
	return nil
}

func getStringRequired(parent map[string]interface{}, key string) (string, error) {
	if _, exists := parent[key]; !exists {
		return "", fmt.Errorf("Missing expected configuration key: %s", key)
	}

	if typed, ok := parent[key].(string); !ok {
		return "", fmt.Errorf("Expecting a string value for key %s, got '%T' instead", key, parent[key])
	} else {
		return typed, nil
	}
}

func getStringOptional(parent map[string]interface{}, key string) (string, bool) {
	if _, exists := parent[key]; exists {
		if value, err := getStringRequired(parent, key); err == nil {
			return value, true
		} else {
			Log.Warnf("%v", err)
			return "", false
		}
	}
	return "", false
}

// getStringMapOptional reads a map of string to string, e.g. HTTP headers or
// a set of named hosts.
func getStringMapOptional(parent map[string]interface{}, key string) (map[string]string, error) {
	if _, exists := parent[key]; !exists {
		return nil, nil
	}

	untyped, err := getMapRequired(parent, key)
	if err != nil {
		return nil, err
	}

	typed := make(map[string]string, len(untyped))
	for k, v := range untyped {
		value, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("Expecting a string value for %s.%s, got '%T' instead", key, k, v)
		}
		typed[k] = value
	}
	return typed, nil
}

func getIntOptionalWithDefault(parent map[string]interface{}, key string, defaultValue int) (int, bool) {
	if _, exists := parent[key]; exists {
		if value, ok := parent[key].(int); ok {
			return value, true
		} else if value, ok := parent[key].(float64); ok {
			return int(value), true
		} else {
			Log.Warnf("Expecting an int value for key %s, got '%T' instead", key, parent[key])
			return defaultValue, false
		}
	}
	return defaultValue, false
}

func getFloatRequired(parent map[string]interface{}, key string) (float64, error) {
	if _, exists := parent[key]; exists {
		switch value := parent[key].(type) {
		case float64:
			return value, nil
		case int:
			return float64(value), nil
		default:
			return 0, fmt.Errorf("Expecting a float64 value for key %s, got '%T' instead", key, parent[key])
		}
	}
	return 0, fmt.Errorf("Missing expected configuration key: %s", key)
}

func getFloatOptional(parent map[string]interface{}, key string) (float64, bool) {
	if _, exists := parent[key]; exists {
		value, err := getFloatRequired(parent, key)
		if err != nil {
			Log.Warnf("%v", err)
			return 0, false
		}
		return value, true
	}
	return 0, false
}

func getBool(parent map[string]interface{}, key string) bool {
	if _, exists := parent[key]; exists {
		if value, ok := parent[key].(bool); ok {
			return value
		} else {
			return true
		}
	}
	return false
}

// jsonSafe converts nested yaml.v2 maps so the value can be JSON encoded.
func jsonSafe(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[interface{}]interface{}:
		converted := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			converted[fmt.Sprintf("%v", k)] = jsonSafe(v)
		}
		return converted
	case map[string]interface{}:
		converted := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			converted[k] = jsonSafe(v)
		}
		return converted
	case []interface{}:
		converted := make([]interface{}, len(typed))
		for i, v := range typed {
			converted[i] = jsonSafe(v)
		}
		return converted
	}
	return value
}
