package app

import "strconv"

// Lookup reads one environment variable, like os.LookupEnv.
type Lookup func(string) (string, bool)

// EnvFloat returns the parsed value of key, or def when unset or invalid.
func EnvFloat(lookup Lookup, key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func EnvInt(lookup Lookup, key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func EnvBool(lookup Lookup, key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func EnvString(lookup Lookup, key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
