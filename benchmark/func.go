package benchmark

import (
	"fmt"
	"time"

	"github.com/osmike/lazycache"
)

var ttl = lazycache.Absolute(5 * time.Minute)

func slowFunc(ms int) (string, error) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return fmt.Sprintf("result %d", ms), nil
}

func cachedSlow(c *lazycache.Cache, ms int) (string, error) {
	return lazycache.GetOrAdd(c, ms, func() (string, error) { return slowFunc(ms) }, ttl)
}
