package ephemeral

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/pribylovaa/clinic-auth/internal/models"
	"github.com/pribylovaa/clinic-auth/internal/storage"
	"github.com/pribylovaa/clinic-auth/internal/storage/memory"
	"github.com/pribylovaa/clinic-auth/mocks"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Set(t time.Time)         { c.now = t }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var testCfg = config.ResourceTokenConfig{DefaultTTL: time.Hour, MaxTTL: 24 * time.Hour}

func newIssuer(t *testing.T) (*Issuer, *memory.Resources, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewResources(1, 2)

	return New(store, testCfg, WithClock(clock.Now)), store, clock
}

func TestIssue_StoresOnlyHash(t *testing.T) {
	t.Parallel()

	iss, store, clock := newIssuer(t)
	ctx := context.Background()

	tok, err := iss.Issue(ctx, 1, models.AccessRead, 5*time.Minute, "doc@clinic.example")
	require.NoError(t, err)
	require.Equal(t, int64(1), tok.ResourceID)
	require.Len(t, tok.TokenID, 43)
	require.Equal(t, clock.Now().Add(5*time.Minute), tok.ExpiresAt)
	require.Equal(t, models.AccessRead, tok.Access)

	res, err := store.Find(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, Hash(tok.TokenID), res.TokenHash)
	require.NotEqual(t, tok.TokenID, res.TokenHash)
	require.Equal(t, "doc@clinic.example", res.TokenIssuer)
}

func TestIssue_DefaultTTL(t *testing.T) {
	t.Parallel()

	iss, _, clock := newIssuer(t)

	tok, err := iss.Issue(context.Background(), 1, models.AccessWrite, 0, "doc")
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(time.Hour), tok.ExpiresAt)
}

func TestIssue_Rejects(t *testing.T) {
	t.Parallel()

	iss, _, _ := newIssuer(t)
	ctx := context.Background()

	_, err := iss.Issue(ctx, 1, models.AccessLevel("admin"), time.Minute, "doc")
	require.ErrorIs(t, err, ErrInvalidAccess)

	_, err = iss.Issue(ctx, 1, models.AccessRead, 25*time.Hour, "doc")
	require.ErrorIs(t, err, ErrInvalidTTL)

	_, err = iss.Issue(ctx, 99, models.AccessRead, time.Minute, "doc")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIssue_RandomFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewResources(1)
	iss := New(store, testCfg, WithRandom(bytes.NewReader([]byte{1, 2, 3})))

	_, err := iss.Issue(context.Background(), 1, models.AccessRead, time.Minute, "doc")
	require.Error(t, err)

	res, err := store.Find(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, res.TokenHash)
}

func TestRedeem_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	iss, _, clock := newIssuer(t)
	ctx := context.Background()
	issuedAt := clock.Now()

	tok, err := iss.Issue(ctx, 2, models.AccessRead, 5*time.Minute, "doc")
	require.NoError(t, err)

	for _, offset := range []time.Duration{0, time.Minute, 5*time.Minute - time.Nanosecond, 5 * time.Minute} {
		clock.Set(issuedAt.Add(offset))
		got, err := iss.Redeem(ctx, tok.TokenID)
		require.NoError(t, err, "offset %s", offset)
		require.Equal(t, int64(2), got.ResourceID)
		require.Equal(t, models.AccessRead, got.Access)
	}

	for _, offset := range []time.Duration{5*time.Minute + time.Nanosecond, 6 * time.Minute, 24 * time.Hour} {
		clock.Set(issuedAt.Add(offset))
		_, err := iss.Redeem(ctx, tok.TokenID)
		require.ErrorIs(t, err, ErrExpired, "offset %s", offset)
	}
}

func TestRedeem_ReissueInvalidatesPrevious(t *testing.T) {
	t.Parallel()

	iss, _, _ := newIssuer(t)
	ctx := context.Background()

	first, err := iss.Issue(ctx, 1, models.AccessRead, 5*time.Minute, "doc")
	require.NoError(t, err)
	second, err := iss.Issue(ctx, 1, models.AccessRead, 5*time.Minute, "doc")
	require.NoError(t, err)
	require.NotEqual(t, first.TokenID, second.TokenID)

	_, err = iss.Redeem(ctx, first.TokenID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := iss.Redeem(ctx, second.TokenID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.ResourceID)
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	iss, _, _ := newIssuer(t)
	ctx := context.Background()

	tok, err := iss.Issue(ctx, 1, models.AccessWrite, time.Minute, "doc")
	require.NoError(t, err)

	require.NoError(t, iss.Invalidate(ctx, 1))
	require.NoError(t, iss.Invalidate(ctx, 1))

	_, err = iss.Redeem(ctx, tok.TokenID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedeem_UnknownAndEmpty(t *testing.T) {
	t.Parallel()

	iss, _, _ := newIssuer(t)

	_, err := iss.Redeem(context.Background(), "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = iss.Redeem(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedeem_StoreFailurePropagates(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockResourceStore(ctrl)
	store.EXPECT().FindByTokenHash(gomock.Any(), Hash("tok")).Return(nil, storage.ErrUnavailable)

	iss := New(store, testCfg)
	_, err := iss.Redeem(context.Background(), "tok")
	require.ErrorIs(t, err, storage.ErrUnavailable)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	iss := New(memory.NewResources(), config.ResourceTokenConfig{})
	require.Equal(t, DefaultTTL, iss.defaultTTL)
	require.Equal(t, DefaultMax, iss.maxTTL)

	iss = New(memory.NewResources(), config.ResourceTokenConfig{DefaultTTL: 2 * time.Hour, MaxTTL: time.Hour})
	require.Equal(t, time.Hour, iss.defaultTTL)
}

func TestHash_Stable(t *testing.T) {
	t.Parallel()

	require.Equal(t, Hash("abc"), Hash("abc"))
	require.NotEqual(t, Hash("abc"), Hash("abd"))
	require.Len(t, Hash("abc"), 43)
}
