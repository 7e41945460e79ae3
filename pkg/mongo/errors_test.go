package mongo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	driver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/makinacorpus/apubsub-sub000/pkg/mongo"
)

func TestIsDuplicateKeyError(t *testing.T) {
	dup := driver.WriteException{WriteErrors: []driver.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	assert.True(t, mongo.IsDuplicateKeyError(dup))
	assert.True(t, mongo.IsDuplicateKeyError(fmt.Errorf("insert: %w", dup)))
	assert.False(t, mongo.IsDuplicateKeyError(errors.New("boom")))
	assert.False(t, mongo.IsDuplicateKeyError(nil))
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, mongo.IsNotFoundError(fmt.Errorf("load: %w", driver.ErrNoDocuments)))
	assert.False(t, mongo.IsNotFoundError(nil))
}

func TestNewRejectsEmptyURL(t *testing.T) {
	_, err := mongo.New(context.Background(), mongo.Config{})
	require.ErrorIs(t, err, mongo.ErrEmptyConnectionURL)
}
