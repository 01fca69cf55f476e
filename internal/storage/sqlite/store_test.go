package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

func sampleBatch() harvest.Batch {
	return harvest.Batch{
		Partitions: []harvest.Partition{{Title: "Lazio", Key: "LAZ"}},
		Entities: []harvest.Entity{
			{Title: "Dell'Urbe", Owner: "Rossi", ID: "E1", PartitionKey: "LAZ", CategoryCodes: []string{"C1"}},
			{Title: "Colle", Owner: "Bianchi", ID: "E2", PartitionKey: "LAZ", CategoryCodes: []string{"C1", "C9"}},
		},
		Persons: []harvest.Person{
			{Description: "Mario Rossi", ID: "P1", Signatory: true, Town: "Roma", EntityIDs: []string{"E1", "E2"}},
		},
		Categories: []harvest.Category{{Code: "C1", RemoteID: "101", Description: "Bracco"}},
	}
}

func TestStorePersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "harvest.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))

	batch := sampleBatch()
	for range 2 {
		links, err := harvest.Persist(ctx, store, batch, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, links.Dangling)
	}

	want := map[string]int{
		"areas":            1,
		"breeders":         2,
		"members":          1,
		"breeds":           1,
		"breeders_breeds":  2,
		"breeders_members": 2,
		"areas_breeders":   2,
	}
	for table, n := range want {
		got, err := store.Count(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, n, got, table)
	}
}

func TestStoreKeepsFirstWrite(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "harvest.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))

	first := harvest.Batch{Categories: []harvest.Category{{Code: "C1", Description: "first"}}}
	second := harvest.Batch{Categories: []harvest.Category{{Code: "C1", Description: "second"}}}
	_, err = harvest.Persist(ctx, store, first, nil)
	require.NoError(t, err)
	_, err = harvest.Persist(ctx, store, second, nil)
	require.NoError(t, err)

	var desc string
	require.NoError(t, store.db.GetContext(ctx, &desc, "SELECT description FROM breeds WHERE code = ?", "C1"))
	assert.Equal(t, "first", desc)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

func TestCountRejectsUnknownTable(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close() //nolint:errcheck

	store := New(sqlx.NewDb(mockDB, "sqlmock"), nil)
	_, err = store.Count(context.Background(), "users; DROP TABLE breeds")
	assert.Error(t, err)
}

func TestPersistRollsBackOnWriteFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close() //nolint:errcheck

	store := New(sqlx.NewDb(mockDB, "sqlmock"), nil)
	batch := harvest.Batch{
		Partitions: []harvest.Partition{{Title: "Lazio", Key: "LAZ"}},
		Entities:   []harvest.Entity{{Title: "Colle", Owner: "Bianchi", ID: "E2", PartitionKey: "LAZ"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertArea)).
		WithArgs("Lazio", "LAZ").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertBreeder)).
		WithArgs("Colle", "Bianchi", "E2").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = harvest.Persist(context.Background(), store, batch, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert entity E2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistCommitsOnce(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close() //nolint:errcheck

	store := New(sqlx.NewDb(mockDB, "sqlmock"), nil)
	batch := harvest.Batch{
		Persons: []harvest.Person{{Description: "Anna", ID: "P9", Signatory: false, Address: "Via Roma 1", Town: "Rieti"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertMember)).
		WithArgs("Anna", "P9", false, "Via Roma 1", "Rieti").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err = harvest.Persist(context.Background(), store, batch, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close() //nolint:errcheck

	store := New(sqlx.NewDb(mockDB, "sqlmock"), nil)
	mock.ExpectBegin().WillReturnError(errors.New("locked"))

	_, err = store.Begin(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
