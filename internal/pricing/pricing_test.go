package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCacheHit(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rdb, redisMock := redismock.NewClientMock()
	redisMock.ExpectGet("cardtrade:price:card-1").SetVal("12.5")

	src := New(db, rdb, 10*time.Minute)
	price, err := src.Price(context.Background(), "card-1")
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, 12.5, *price)

	// cache hit: no query reaches Postgres
	assert.NoError(t, dbMock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestPriceCacheMissFallsThrough(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rdb, redisMock := redismock.NewClientMock()
	redisMock.ExpectGet("cardtrade:price:card-1").RedisNil()
	redisMock.ExpectSet("cardtrade:price:card-1", "12.5", 10*time.Minute).SetVal("OK")

	dbMock.ExpectQuery(`SELECT price FROM item_prices`).
		WithArgs("card-1").
		WillReturnRows(sqlmock.NewRows([]string{"price"}).AddRow(12.5))

	src := New(db, rdb, 10*time.Minute)
	price, err := src.Price(context.Background(), "card-1")
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, 12.5, *price)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestPriceUnknownItem(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rdb, redisMock := redismock.NewClientMock()
	redisMock.ExpectGet("cardtrade:price:card-9").RedisNil()

	dbMock.ExpectQuery(`SELECT price FROM item_prices`).
		WithArgs("card-9").
		WillReturnRows(sqlmock.NewRows([]string{"price"}))

	src := New(db, rdb, 10*time.Minute)
	price, err := src.Price(context.Background(), "card-9")
	require.NoError(t, err)
	assert.Nil(t, price)
}
