package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-version-index/internal/adapter"
	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/logger"
	"github.com/feral-file/ff-version-index/internal/mocks"
	"github.com/feral-file/ff-version-index/internal/store"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := store.Open(store.Config{Dir: "/data", FS: vfs.NewMem()}, adapter.NewClock())
	require.NoError(t, err)
	t.Cleanup(func() {
		if st.State() == store.StateServing {
			_ = st.Close()
		}
	})
	return st
}

func token(id string) domain.Identity {
	return domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8", TokenID: id}
}

func ptr(n uint64) *uint64 {
	return &n
}

func payloads(versions []domain.Version) []string {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, string(v.Payload))
	}
	return out
}

func seed(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Insert(ctx, token("1"), 110, []byte("A")))
	require.NoError(t, st.Insert(ctx, token("2"), 110, []byte("B")))
	require.NoError(t, st.Insert(ctx, token("2"), 120, []byte("B2")))
	require.NoError(t, st.Insert(ctx, token("3"), 130, []byte("C")))
}

func TestStore_Open(t *testing.T) {
	st := openTestStore(t)
	assert.Equal(t, store.StateServing, st.State())
	assert.Equal(t, "serving", st.State().String())
}

func TestStore_InsertAndRead(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seed(t, st)

	version, err := st.GetOne(ctx, token("2"), nil)
	require.NoError(t, err)
	assert.Equal(t, "B2", string(version.Payload))

	version, err = st.GetOne(ctx, token("2"), ptr(119))
	require.NoError(t, err)
	assert.Equal(t, "B", string(version.Payload))

	contract := domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8"}

	versions, err := st.ListLatest(ctx, contract, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B2", "C"}, payloads(versions))

	versions, err = st.ListLatest(ctx, contract, ptr(110), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, payloads(versions))

	versions, err = st.ListLatest(ctx, contract, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B2"}, payloads(versions))

	history, err := st.Versions(ctx, token("2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "B2"}, payloads(history))

	keys, err := st.GetChangedSince(ctx, 110, ptr(130))
	require.NoError(t, err)
	assert.Equal(t, []domain.VersionKey{
		{Identity: token("1"), BlockNumber: 110},
		{Identity: token("2"), BlockNumber: 110},
		{Identity: token("3"), BlockNumber: 130},
	}, keys)

	filled, err := st.GetChangedSinceFilled(ctx, 100, ptr(120))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, payloads(filled))
}

func TestStore_GetMany_Cursor(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seed(t, st)

	cursor, err := st.GetMany(ctx, domain.Identity{ChainID: "eip155:1"}, nil)
	require.NoError(t, err)
	defer cursor.Close()

	var got []string
	for cursor.Next() {
		got = append(got, cursor.Version().TokenID)
	}
	require.NoError(t, cursor.Err())
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestStore_Close_AbortsOpenCursor(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seed(t, st)

	cursor, err := st.GetMany(ctx, domain.Identity{ChainID: "eip155:1"}, nil)
	require.NoError(t, err)
	require.True(t, cursor.Next())
	assert.Equal(t, "1", cursor.Version().TokenID)

	// both indexes close cleanly although the cursor was never closed
	require.NoError(t, st.Close())

	assert.False(t, cursor.Next())
	assert.ErrorIs(t, cursor.Err(), domain.ErrStoreClosed)
	assert.NoError(t, cursor.Close())
	assert.False(t, cursor.Next())
}

func TestStore_Close_AfterCursorClosed(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seed(t, st)

	for range 3 {
		cursor, err := st.GetMany(ctx, domain.Identity{ChainID: "eip155:1"}, ptr(120))
		require.NoError(t, err)
		require.True(t, cursor.Next())
		require.NoError(t, cursor.Close())
	}
	_, err := st.ListLatest(ctx, domain.Identity{ChainID: "eip155:1"}, nil, 1)
	require.NoError(t, err)

	require.NoError(t, st.Close())
}

func TestStore_Insert_Validation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		identity    domain.Identity
		block       uint64
		expectedErr error
	}{
		{
			name:        "block number too wide",
			identity:    token("1"),
			block:       10_000_000_000,
			expectedErr: domain.ErrEncoding,
		},
		{
			name:        "partial identity",
			identity:    domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8"},
			block:       1,
			expectedErr: domain.ErrInvalidIdentity,
		},
		{
			name:        "separator in field",
			identity:    domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8/1", TokenID: "1"},
			block:       1,
			expectedErr: domain.ErrEncoding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.Insert(ctx, tt.identity, tt.block, []byte("x"))
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}

	// nothing was written by the rejected inserts
	keys, err := st.GetChangedSince(ctx, 0, ptr(9_999_999_999))
	require.NoError(t, err)
	assert.Empty(t, keys)

	versions, err := st.ListLatest(ctx, domain.Identity{}, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestStore_Remove(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seed(t, st)

	require.NoError(t, st.Remove(ctx, token("2"), 120))

	version, err := st.GetOne(ctx, token("2"), nil)
	require.NoError(t, err)
	assert.Equal(t, "B", string(version.Payload))

	keys, err := st.GetChangedSince(ctx, 120, nil)
	require.NoError(t, err)
	assert.Empty(t, keys)

	err = st.Remove(ctx, token("2"), 120)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_Remove_AbsentSkipsMarker(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	primaryKV := mocks.NewMockOrderedKV(ctrl)
	changesKV := mocks.NewMockOrderedKV(ctrl)
	st := store.NewPebbleStore(primaryKV, changesKV, adapter.NewClock())

	primaryKV.EXPECT().Get([]byte("eip155:1/0xb8/1/0000000110")).Return(nil, adapter.ErrKeyNotFound)
	// changesKV must see no Delete

	err := st.Remove(context.Background(), token("1"), 110)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_Insert_MarkerFailureKeepsPrimary(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	primaryKV := mocks.NewMockOrderedKV(ctrl)
	changesKV := mocks.NewMockOrderedKV(ctrl)
	st := store.NewPebbleStore(primaryKV, changesKV, adapter.NewClock())

	gomock.InOrder(
		primaryKV.EXPECT().Set([]byte("eip155:1/0xb8/1/0000000110"), []byte("A")).Return(nil),
		changesKV.EXPECT().Set([]byte("0000000110/eip155:1/0xb8/1"), gomock.Nil()).Return(assert.AnError),
	)
	// no rollback of the primary write

	err := st.Insert(context.Background(), token("1"), 110, []byte("A"))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to mark change")
}

func TestStore_Insert_PrimaryFailureSkipsMarker(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	primaryKV := mocks.NewMockOrderedKV(ctrl)
	changesKV := mocks.NewMockOrderedKV(ctrl)
	st := store.NewPebbleStore(primaryKV, changesKV, adapter.NewClock())

	primaryKV.EXPECT().Set(gomock.Any(), gomock.Any()).Return(assert.AnError)

	err := st.Insert(context.Background(), token("1"), 110, []byte("A"))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestStore_Rebuild(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fs := vfs.NewMem()
	primaryKV, err := adapter.OpenPebble("primary", adapter.PebbleOptions{FS: fs})
	require.NoError(t, err)
	changesKV, err := adapter.OpenPebble("changes", adapter.PebbleOptions{FS: fs})
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(start).Times(2)
	clock.EXPECT().Since(start).Return(2 * time.Second).Times(2)

	st := store.NewPebbleStore(primaryKV, changesKV, clock)
	defer st.Close()

	ctx := context.Background()
	seed(t, st)

	// drop markers behind the store's back
	for _, key := range []string{"0000000110/eip155:1/0xb8/1", "0000000120/eip155:1/0xb8/2"} {
		require.NoError(t, changesKV.Delete([]byte(key)))
	}

	keys, err := st.GetChangedSince(ctx, 100, ptr(200))
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	count, err := st.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	first, err := st.GetChangedSince(ctx, 100, ptr(200))
	require.NoError(t, err)
	assert.Len(t, first, 3)

	count, err = st.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	second, err := st.GetChangedSince(ctx, 100, ptr(200))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStore_Close(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seed(t, st)

	require.NoError(t, st.Close())
	assert.Equal(t, store.StateClosed, st.State())

	assert.ErrorIs(t, st.Close(), domain.ErrStoreClosed)
	assert.ErrorIs(t, st.Insert(ctx, token("9"), 1, []byte("x")), domain.ErrStoreClosed)
	assert.ErrorIs(t, st.Remove(ctx, token("1"), 110), domain.ErrStoreClosed)

	_, err := st.GetOne(ctx, token("1"), nil)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	_, err = st.GetMany(ctx, domain.Identity{}, nil)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	_, err = st.ListLatest(ctx, domain.Identity{}, nil, 0)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	_, err = st.Versions(ctx, token("1"))
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	_, err = st.GetChangedSince(ctx, 0, nil)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	_, err = st.GetChangedSinceFilled(ctx, 0, nil)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	_, err = st.Rebuild(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
}

func TestStore_Close_FlushesBoth(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	primaryKV := mocks.NewMockOrderedKV(ctrl)
	changesKV := mocks.NewMockOrderedKV(ctrl)
	st := store.NewPebbleStore(primaryKV, changesKV, adapter.NewClock())

	gomock.InOrder(
		primaryKV.EXPECT().Flush().Return(nil),
		primaryKV.EXPECT().Close().Return(nil),
		changesKV.EXPECT().Flush().Return(assert.AnError),
		changesKV.EXPECT().Close().Return(nil),
	)

	err := st.Close()
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, store.StateClosed, st.State())
}
