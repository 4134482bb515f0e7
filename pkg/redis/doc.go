// Package redis connects to Redis with go-redis/v9, retrying until the
// server answers, and exposes a readiness probe for the client.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package redis
