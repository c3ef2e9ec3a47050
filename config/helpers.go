package config

// Typed lookups into a component's free-form settings. Values decoded from
// JSON arrive as float64 and from YAML as int, so both are accepted.

// GetString returns cfg[key] if it is a string
func GetString(cfg map[string]any, key string, defaultVal string) string {
	if str, ok := cfg[key].(string); ok {
		return str
	}
	return defaultVal
}

// GetInt returns cfg[key] if it is numeric
func GetInt(cfg map[string]any, key string, defaultVal int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultVal
}

// GetBool returns cfg[key] if it is a bool
func GetBool(cfg map[string]any, key string, defaultVal bool) bool {
	if b, ok := cfg[key].(bool); ok {
		return b
	}
	return defaultVal
}

// HasKey reports whether key is set
func HasKey(cfg map[string]any, key string) bool {
	_, ok := cfg[key]
	return ok
}
