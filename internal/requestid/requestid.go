package requestid

import (
	crand "crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const HeaderKey = "X-Toolbox-Request-Id"

// Gen returns yyyymmddHHMMSSuuuuuu followed by 8 random digits.
func Gen() string {
	return timeString() + randomDigits(8)
}

// Middleware reuses the caller's request id when present, otherwise
// generates one. The id is stored in the gin context under HeaderKey and
// echoed in the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderKey))
		if id == "" || len(id) > 128 {
			id = Gen()
		}
		c.Set(HeaderKey, id)
		c.Writer.Header().Set(HeaderKey, id)
		c.Next()
	}
}

func timeString() string {
	return strings.ReplaceAll(time.Now().Format("20060102150405.000000"), ".", "")
}

func randomDigits(n int) string {
	const digits = "0123456789"
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(digits[cryptoRandIntn(len(digits))])
	}
	return b.String()
}

func cryptoRandIntn(max int) int {
	if max <= 0 {
		return 0
	}
	nBig, err := crand.Int(crand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return int(nBig.Int64())
}
