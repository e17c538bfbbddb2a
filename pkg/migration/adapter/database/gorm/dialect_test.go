package gorm_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	drv "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
	gormadapter "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm"
	_ "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm/mysql"
	_ "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm/postgres"
	_ "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm/sqlite"
)

func TestConnectionString(t *testing.T) {
	pg, err := gormadapter.ConnectionString(dbconfig.DatabaseConfig{
		Type: "postgres", Host: "pg_host", Port: 5432, Database: "pg_db",
		User: "pg_user", Password: "pg_password", Sslmode: "require",
	})
	require.NoError(t, err)
	assert.Equal(t, "host=pg_host port=5432 user=pg_user password=pg_password dbname=pg_db sslmode=require", pg)

	my, err := gormadapter.ConnectionString(dbconfig.DatabaseConfig{
		Type: "mysql", Host: "mysql_host", Database: "mysql_db", User: "mysql_user", Password: "secret",
	})
	require.NoError(t, err)
	parsed, err := drv.ParseDSN(my)
	require.NoError(t, err)
	assert.Equal(t, "mysql_host:3306", parsed.Addr)
	assert.Equal(t, "mysql_db", parsed.DBName)
	assert.Equal(t, "secret", parsed.Passwd)
	assert.True(t, parsed.ParseTime)

	lite, err := gormadapter.ConnectionString(dbconfig.DatabaseConfig{Type: "sqlite", Database: "/tmp/x.db"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", lite)

	_, err = gormadapter.ConnectionString(dbconfig.DatabaseConfig{Type: "sqlite"})
	assert.Error(t, err)

	_, err = gormadapter.ConnectionString(dbconfig.DatabaseConfig{Type: "oracle"})
	assert.ErrorContains(t, err, "no dialect registered")
}

func TestTransientClassification(t *testing.T) {
	my, err := gormadapter.LookupDialect("mysql")
	require.NoError(t, err)
	assert.True(t, my.IsTransient(&drv.MySQLError{Number: 1213}))
	assert.False(t, my.IsTransient(&drv.MySQLError{Number: 1062}))

	pg, err := gormadapter.LookupDialect("postgres")
	require.NoError(t, err)
	assert.True(t, pg.IsTransient(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, pg.IsTransient(errors.New("boom")))
}

func TestProvider_SQLiteLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staging.db")
	provider := gormadapter.NewProvider(dbconfig.DatasourcesConfig{
		"staging": {Type: "sqlite", Database: path},
	})
	resolver := gormadapter.NewResolver(provider)

	conn, err := resolver.Resolve(context.Background(), "staging")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", conn.Type())
	assert.Equal(t, "staging", conn.Name())

	again, err := provider.GetConnection("staging")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	reconnected, err := provider.ForceReconnect("staging")
	require.NoError(t, err)
	assert.NotSame(t, conn, reconnected)

	_, err = provider.GetConnection("missing")
	assert.ErrorContains(t, err, "not configured")

	require.NoError(t, provider.CloseAll())
}
