// Command memcachedcore is a small, self-contained exercise of the cache
// engine facade: enough to see the store engine work end to end without
// standing up the (out of scope) wire dispatcher.
package main

import (
	"os"

	"github.com/slabcache/memcached/cache"
	"github.com/slabcache/memcached/log"
)

func main() {
	l := log.NewFromLevelString(envOr("LOG_LEVEL", "INFO"), os.Stdout)

	cfg, err := cache.NewConfig(cache.WithMaxBytes(64 * 1024 * 1024))
	if err != nil {
		l.Fatalf("bad config: %v", err)
	}

	h := NewHandler(cfg, l)
	defer h.Close()

	status, cas := h.Set([]byte("foo"), []byte("bar"), 7, 0)
	l.Infof("SET foo -> %s cas=%d", status, cas)

	info, status := h.Get([]byte("foo"))
	l.Infof("GET foo -> %s value=%q flags=%d cas=%d", status, info.Value, info.Flags, info.CAS)

	deleted := h.Delete([]byte("foo"))
	l.Infof("DELETE foo -> deleted=%v", deleted)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
