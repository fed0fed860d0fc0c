package signal

import (
	"sync"

	"golang.org/x/time/rate"
)

// JoinLimiter caps join attempts per client token.
type JoinLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewJoinLimiter(perSecond float64, burst int) *JoinLimiter {
	return &JoinLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (jl *JoinLimiter) Allow(client string) bool {
	jl.mu.Lock()
	l, ok := jl.limiters[client]
	if !ok {
		l = rate.NewLimiter(jl.limit, jl.burst)
		jl.limiters[client] = l
	}
	jl.mu.Unlock()
	return l.Allow()
}

