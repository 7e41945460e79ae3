package mongo

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

var (
	ErrFailedToConnectToMongo = errors.New("failed to connect to mongo")
	ErrEmptyConnectionURL     = errors.New("empty mongo connection url, use MONGODB_URL env var")
	ErrHealthcheckFailed      = errors.New("mongo healthcheck failed")
)

// IsDuplicateKeyError detects unique index violations.
func IsDuplicateKeyError(err error) bool {
	return err != nil && mongo.IsDuplicateKeyError(err)
}

// IsNotFoundError reports mongo.ErrNoDocuments.
func IsNotFoundError(err error) bool {
	return err != nil && errors.Is(err, mongo.ErrNoDocuments)
}
