// Package groutine starts named goroutines. Names show up as pprof labels in
// goroutine profiles and can be read back from the goroutine's context for
// logging.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
)

type ctxKey string

const (
	nameKey   ctxKey = "goroutine_name"
	nameLabel        = "goroutine_name"
)

// Go runs fn on a new goroutine labelled name. fn receives parentCtx
// carrying the name; a nil parentCtx means context.Background().
//
//	groutine.Go(ctx, "stream-reader", func(ctx context.Context) {
//	    // work until ctx is done
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	go pprof.Do(parentCtx, pprof.Labels(nameLabel, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey, name))
	})
}

// Name returns the name given to Go, or "" for contexts not created by it
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(nameKey).(string)
	return name
}

// GetGID returns the numeric ID of the calling goroutine. It parses the
// runtime stack header and is meant for identity checks, not hot paths.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}
