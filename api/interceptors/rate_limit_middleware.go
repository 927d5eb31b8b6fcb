package interceptors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/tradewell/go-exchange-vault/global"
)

const (
	LimitRequestsPerSecond = 5
	// credential writes hit the vault and CouchDB, throttle them harder
	LimitWritesPerSecond = 1
)

var writePathRe = regexp.MustCompile("^/api/v.*/credentials$")

func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip, ipErr := getIP(c)
		if ipErr != nil {
			// ignore for now
		}
		if ip == nil {
			unkn := "unknown"
			ip = &unkn
		}
		userAgent := c.GetHeader("User-Agent")
		acceptLanguage := c.GetHeader("Accept-Language")
		referer := c.GetHeader("Referer")
		all := fmt.Sprintf("%s%s%s%s", *ip, userAgent, acceptLanguage, referer)

		limit := LimitRequestsPerSecond
		if c.Request.Method == http.MethodPost && writePathRe.MatchString(c.Request.URL.Path) {
			limit = LimitWritesPerSecond
			all = fmt.Sprintf("%s%s", all, "_write")
		}

		hash := xxhash.Sum64String(all)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		result, err := global.RateLimiter.Allow(ctx, strconv.FormatUint(hash, 10), redis_rate.PerSecond(limit))
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, errors.New("failed to perform rate limit check"))
			return
		}
		if result.Allowed <= 0 {
			c.AbortWithError(http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}

		c.Writer.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit.Rate))
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Writer.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(result.ResetAfter.Milliseconds())))
		c.Next()
	}
}
