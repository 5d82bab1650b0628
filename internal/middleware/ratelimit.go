package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
)

// RateLimit limits each client IP to perSecond requests per second.
func RateLimit(perSecond float64) func(http.Handler) http.Handler {
	message, _ := json.Marshal(map[string]string{
		"detail": "Too many requests, slow down.",
	})

	lmt := tollbooth.NewLimiter(perSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Minute,
	})
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(string(message))

	return func(next http.Handler) http.Handler {
		return tollbooth.LimitHandler(lmt, next)
	}
}
