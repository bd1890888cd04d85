package log

import (
	"fmt"

	"go.uber.org/zap"
)

// toFields converts the variadic key/value arguments of a log call into zap
// fields. Arguments are consumed as (string key, value) pairs; a bare error
// or a ready-made zap.Field is accepted in place of a pair, and anything
// malformed is kept under a synthetic key rather than dropped.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch a := args[i].(type) {
		case zap.Field:
			fields = append(fields, a)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(a))
			i++
			continue
		}

		if i == len(args)-1 {
			// Trailing value with no key.
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i += 2

		k, ok := key.(string)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", i/2),
				map[string]any{"key": key, "value": val}))
			continue
		}

		switch v := val.(type) {
		case error:
			fields = append(fields, zap.NamedError(k, v))
		case fmt.Stringer:
			fields = append(fields, zap.String(k, v.String()))
		case []byte:
			fields = append(fields, zap.Binary(k, v))
		default:
			fields = append(fields, zap.Any(k, v))
		}
	}

	return fields
}
