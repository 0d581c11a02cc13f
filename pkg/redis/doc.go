// Package redis connects to Redis with retries and exposes a readiness probe.
//
// Config is populated from REDIS_* environment variables. The returned
// *redis.Client is shared by the flag decision cache and the health endpoint:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	cache := feature.NewRedisCache(client, feature.WithRedisKeyPrefix(cfg.KeyPrefix))
//	ready := redis.Healthcheck(client)
package redis
