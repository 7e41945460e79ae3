// Package redis holds helpers around go-redis: a retrying Connect, a health
// probe, and SCAN based key iteration.
//
// Configuration is described by Config, populated from the environment:
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// ScanKeys and DeleteKeys walk the keyspace with SCAN, never KEYS, so they
// are safe against a production server.
package redis
