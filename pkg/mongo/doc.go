// Package mongo bootstraps MongoDB access with the official v2 driver: a
// pooled client with connection retries, a health probe, and helpers
// classifying driver errors.
//
//	var cfg mongo.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.Background())
package mongo
