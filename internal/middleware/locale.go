package middleware

import (
	"context"
	"net/http"

	"github.com/soaringjerry/surveyledger/internal/utils"
)

type ctxKey int

const localeKey ctxKey = 1

// Locale extracts the locale from the lang query param or Accept-Language
// and stores it in the request context.
func Locale(supported []string, def string) func(http.Handler) http.Handler {
	if len(supported) == 0 {
		supported = utils.SupportedLocales()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := utils.DetermineLocale(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), supported, def)
			w.Header().Set("Content-Language", locale)
			ctx := context.WithValue(r.Context(), localeKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LocaleFromContext retrieves the locale stored by Locale.
func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeKey).(string); ok && s != "" {
		return s
	}
	return "en"
}
