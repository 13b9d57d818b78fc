package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type countryContextKey struct{}

// CountryKey locates the resolved ISO country code in a request context.
var CountryKey = countryContextKey{}

// CountryLookup resolves an ISO 3166-1 alpha-2 code for an IP address.
type CountryLookup func(ip string) (string, error)

// Country annotates each request with a best-effort submitting country. The
// code only feeds job statistics, so every resolution step is optional:
// proxy-injected headers win, then an Accept-Language region, then a GeoIP
// lookup when one is configured.
func Country(lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if code := ResolveCountry(r, lookup); code != "" {
				ctx := context.WithValue(r.Context(), CountryKey, code)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CountryFromContext returns the ISO country code stored by Country, or "".
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry resolves the submitting country for a request without
// touching the context.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	for _, key := range []string{"CF-IPCountry", "X-Country-Code", "X-IP-Country", "X-Appengine-Country"} {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" && !strings.EqualFold(val, "XX") {
			return strings.ToUpper(val)
		}
	}
	if region := acceptLanguageRegion(r.Header.Get("Accept-Language")); region != "" {
		return region
	}
	if lookup != nil {
		if ip := clientIP(r); ip != "" {
			if code, err := lookup(ip); err == nil && code != "" {
				return strings.ToUpper(code)
			}
		}
	}
	return ""
}

// acceptLanguageRegion extracts the region subtag of the first language range
// that carries one, e.g. "en-GB,en;q=0.8" yields "GB".
func acceptLanguageRegion(header string) string {
	for _, part := range strings.Split(header, ",") {
		token := strings.TrimSpace(strings.Split(part, ";")[0])
		if token == "" {
			continue
		}
		if idx := strings.IndexAny(token, "-_"); idx > 0 && idx < len(token)-1 {
			region := token[idx+1:]
			if len(region) == 2 {
				return strings.ToUpper(region)
			}
		}
	}
	return ""
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
