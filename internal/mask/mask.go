// Package mask redacts sensitive values before they reach log output.
package mask

// MaskString replaces the middle third of s with 'X' characters. Short
// strings still keep their first and last characters visible.
func MaskString(s string) string {
	if len(s) < 3 {
		return s
	}

	begin := len(s) / 3
	end := len(s) - begin

	masked := []byte(s)
	for i := begin; i <= end && i < len(masked); i++ {
		masked[i] = 'X'
	}
	return string(masked)
}

// MaskMap returns a shallow copy of data with the string values of the
// named fields masked. Fields that are absent or non-string are left
// untouched.
func MaskMap(data map[string]any, fields []string) map[string]any {
	masked := make(map[string]any, len(data))
	for k, v := range data {
		masked[k] = v
	}
	for _, field := range fields {
		if value, ok := masked[field].(string); ok {
			masked[field] = MaskString(value)
		}
	}
	return masked
}
