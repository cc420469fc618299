// Package redis connects jobq to Redis and provides shared stores for rate
// limiting and idempotency claims.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	limits, _ := redis.NewRateLimitStore(client, cfg.KeyPrefix)  // ratelimiter.Store
//	claims, _ := redis.NewClaimStore(client, cfg.KeyPrefix)      // idempotency.Store
//
// Both stores run their check-and-set as Lua scripts, so each call is atomic
// on the server. Connect retries until cfg.ConnectTimeout elapses. Healthcheck
// returns a probe for readiness endpoints.
package redis
