package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ryanbastic/go-pixelplace/internal/pixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	clock *fakeClock
	store *spyStore
	pub   *recordingPublisher
	gate  *Gate
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	clock := newFakeClock()
	store := newSpyStore(clock)
	pub := &recordingPublisher{}
	cfg := DefaultConfig()
	tracker := NewTracker(store, cfg, WithClock(clock.Now))
	return &gateFixture{
		clock: clock,
		store: store,
		pub:   pub,
		gate:  NewGate(store, tracker, cfg, WithPublisher(pub)),
	}
}

func requireValidation(t *testing.T, err error, reason string) *ValidationError {
	t.Helper()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, reason, ve.Reason)
	return ve
}

func TestPlace_Success(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	req := placeReq(10, 20, "#ff00aa", "u1")
	req.Link = "https://example.com/x"
	req.UserName = "Alice"

	res, err := f.gate.Place(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Pixel.X)
	assert.Equal(t, 20, res.Pixel.Y)
	assert.Equal(t, "#FF00AA", res.Pixel.Color)
	assert.Equal(t, "u1", res.Pixel.OwnerID)
	require.NotNil(t, res.Pixel.Link)
	assert.Equal(t, "https://example.com/x", *res.Pixel.Link)
	require.NotNil(t, res.Pixel.OwnerName)
	assert.Equal(t, "Alice", *res.Pixel.OwnerName)
	assert.True(t, res.CooldownEnd.Equal(f.clock.Now().Add(10*time.Minute)))
	assert.NoError(t, res.CooldownWriteErr)

	rec, err := f.store.GetCooldown(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.LastPlacement.Equal(f.clock.Now()))

	assert.Equal(t, 1, f.pub.count())
}

func TestPlace_EmptyLinkAndNameStoredAsNull(t *testing.T) {
	f := newGateFixture(t)

	res, err := f.gate.Place(context.Background(), placeReq(0, 0, "#000000", "u1"))
	require.NoError(t, err)
	assert.Nil(t, res.Pixel.Link)
	assert.Nil(t, res.Pixel.OwnerName)
}

func TestPlace_ValidGridCornersSucceed(t *testing.T) {
	corners := []pixel.Position{{X: 0, Y: 0}, {X: 599, Y: 0}, {X: 0, Y: 399}, {X: 599, Y: 399}, {X: 300, Y: 200}}
	for i, pos := range corners {
		f := newGateFixture(t)
		res, err := f.gate.Place(context.Background(), placeReq(pos.X, pos.Y, "#123456", fmt.Sprintf("u%d", i)))
		require.NoError(t, err, "position %+v", pos)
		assert.True(t, res.CooldownEnd.Equal(f.clock.Now().Add(10*time.Minute)))
	}
}

func TestPlace_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		fields []string
	}{
		{"no x", Request{Y: intPtr(1), Color: "#FFFFFF", UserID: "u"}, []string{"x"}},
		{"no y", Request{X: intPtr(1), Color: "#FFFFFF", UserID: "u"}, []string{"y"}},
		{"no color", Request{X: intPtr(1), Y: intPtr(1), UserID: "u"}, []string{"color"}},
		{"no user", Request{X: intPtr(1), Y: intPtr(1), Color: "#FFFFFF"}, []string{"user_id"}},
		{"blank user", Request{X: intPtr(1), Y: intPtr(1), Color: "#FFFFFF", UserID: "  "}, []string{"user_id"}},
		{"empty", Request{}, []string{"x", "y", "color", "user_id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture(t)
			_, err := f.gate.Place(context.Background(), tt.req)
			ve := requireValidation(t, err, ReasonMissingFields)
			assert.Equal(t, tt.fields, ve.Fields)
			assert.Zero(t, f.store.writes())
		})
	}
}

func TestPlace_OutOfBounds_NoWrites(t *testing.T) {
	tests := []struct {
		x, y   int
		fields []string
	}{
		{-1, 0, []string{"x"}},
		{600, 0, []string{"x"}},
		{0, -1, []string{"y"}},
		{0, 400, []string{"y"}},
		{600, 400, []string{"x", "y"}},
		{-5, 1000, []string{"x", "y"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("(%d,%d)", tt.x, tt.y), func(t *testing.T) {
			f := newGateFixture(t)
			_, err := f.gate.Place(context.Background(), placeReq(tt.x, tt.y, "#FFFFFF", "u1"))
			ve := requireValidation(t, err, ReasonOutOfBounds)
			assert.Equal(t, tt.fields, ve.Fields)
			assert.Zero(t, f.store.writes())
			assert.Zero(t, f.pub.count())
		})
	}
}

func TestPlace_GridIsConfigurable(t *testing.T) {
	clock := newFakeClock()
	store := newSpyStore(clock)
	cfg := Config{GridWidth: 4, GridHeight: 2, Cooldown: time.Minute}
	g := NewGate(store, NewTracker(store, cfg, WithClock(clock.Now)), cfg)

	_, err := g.Place(context.Background(), placeReq(4, 0, "#FFFFFF", "u1"))
	requireValidation(t, err, ReasonOutOfBounds)

	res, err := g.Place(context.Background(), placeReq(3, 1, "#FFFFFF", "u1"))
	require.NoError(t, err)
	assert.True(t, res.CooldownEnd.Equal(clock.Now().Add(time.Minute)))
}

func TestPlace_ColorValidation(t *testing.T) {
	accepted := []string{"#FF0000", "#ff0000"}
	for _, c := range accepted {
		f := newGateFixture(t)
		res, err := f.gate.Place(context.Background(), placeReq(1, 1, c, "u1"))
		require.NoError(t, err, c)
		assert.Equal(t, "#FF0000", res.Pixel.Color)
	}

	rejected := []string{"FF0000", "#FF00", "#GGGGGG", "red", "   ", " #FF0000"}
	for _, c := range rejected {
		f := newGateFixture(t)
		_, err := f.gate.Place(context.Background(), placeReq(1, 1, c, "u1"))
		requireValidation(t, err, ReasonBadColor)
		assert.Zero(t, f.store.writes())
	}
}

func TestPlace_LinkValidation(t *testing.T) {
	f := newGateFixture(t)
	req := placeReq(1, 1, "#FF0000", "u1")
	req.Link = "not-a-url"
	_, err := f.gate.Place(context.Background(), req)
	requireValidation(t, err, ReasonBadLink)

	req.Link = "https://"
	_, err = f.gate.Place(context.Background(), req)
	requireValidation(t, err, ReasonBadLink)

	req.Link = "mailto:owner@example.com"
	res, err := f.gate.Place(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "mailto:owner@example.com", *res.Pixel.Link)
}

func TestPlace_ValidationOrder(t *testing.T) {
	f := newGateFixture(t)

	// Out of bounds and bad color: bounds is checked first.
	_, err := f.gate.Place(context.Background(), placeReq(-1, 0, "nope", "u1"))
	requireValidation(t, err, ReasonOutOfBounds)

	// Bad color and bad link: color is checked first.
	req := placeReq(0, 0, "nope", "u1")
	req.Link = "nope"
	_, err = f.gate.Place(context.Background(), req)
	requireValidation(t, err, ReasonBadColor)
}

func TestPlace_OccupiedBeforeCooldown(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, err := f.gate.Place(ctx, placeReq(5, 5, "#FFFFFF", "u1"))
	require.NoError(t, err)

	// u1 is also cooling down, but occupancy is reported first.
	_, err = f.gate.Place(ctx, placeReq(5, 5, "#000000", "u1"))
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, pixel.Position{X: 5, Y: 5}, ce.Position)
}

func TestPlace_Cooldown(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, err := f.gate.Place(ctx, placeReq(1, 1, "#FFFFFF", "u1"))
	require.NoError(t, err)
	t0 := f.clock.Now()

	f.clock.Advance(4 * time.Minute)
	_, err = f.gate.Place(ctx, placeReq(2, 1, "#FFFFFF", "u1"))
	var cde *CooldownError
	require.ErrorAs(t, err, &cde)
	assert.Equal(t, 6*time.Minute, cde.RetryAfter)
	assert.True(t, cde.CooldownEndsAt.Equal(t0.Add(10*time.Minute)))

	f.clock.Advance(6 * time.Minute)
	res, err := f.gate.Place(ctx, placeReq(2, 1, "#FFFFFF", "u1"))
	require.NoError(t, err)
	assert.True(t, res.CooldownEnd.Equal(f.clock.Now().Add(10*time.Minute)))
}

func TestPlace_RacingInsertReportedAsConflict(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, err := f.gate.Place(ctx, placeReq(7, 7, "#FFFFFF", "u1"))
	require.NoError(t, err)

	f.store.hidePixels = true
	_, err = f.gate.Place(ctx, placeReq(7, 7, "#000000", "u2"))
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)

	_, err = f.store.GetCooldown(ctx, "u2")
	assert.Error(t, err, "loser must not get a cooldown record")
}

func TestPlace_ConcurrentSameCell(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	const writers = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.gate.Place(ctx, placeReq(9, 9, "#ABCDEF", fmt.Sprintf("user-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			var ce *ConflictError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &ce):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)

	page, err := f.store.ListPixels(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Pixels, 1)
}

func TestPlace_CooldownWriteFailureIsNonFatal(t *testing.T) {
	f := newGateFixture(t)
	f.store.upsertErr = errors.New("timeout")

	res, err := f.gate.Place(context.Background(), placeReq(3, 3, "#FFFFFF", "u1"))
	require.NoError(t, err)
	require.NotNil(t, res)
	var se *StorageError
	require.ErrorAs(t, res.CooldownWriteErr, &se)

	_, err = f.store.PixelAt(context.Background(), pixel.Position{X: 3, Y: 3})
	assert.NoError(t, err, "pixel must be committed")
	assert.Equal(t, 1, f.pub.count())
}

func TestPlace_StorageErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("occupancy lookup", func(t *testing.T) {
		f := newGateFixture(t)
		f.store.pixelAtErr = boom
		_, err := f.gate.Place(context.Background(), placeReq(1, 1, "#FFFFFF", "u1"))
		var se *StorageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "get pixel", se.Op)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cooldown lookup", func(t *testing.T) {
		f := newGateFixture(t)
		f.store.getCooldownErr = boom
		_, err := f.gate.Place(context.Background(), placeReq(1, 1, "#FFFFFF", "u1"))
		var se *StorageError
		require.ErrorAs(t, err, &se)
		assert.Zero(t, f.store.writes())
	})

	t.Run("insert", func(t *testing.T) {
		f := newGateFixture(t)
		f.store.insertErr = boom
		_, err := f.gate.Place(context.Background(), placeReq(1, 1, "#FFFFFF", "u1"))
		var se *StorageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "insert pixel", se.Op)
		assert.Zero(t, f.store.upserts, "no cooldown write after failed insert")
		assert.Zero(t, f.pub.count())
	})
}

func TestPlace_EndToEndScenario(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	res, err := f.gate.Place(ctx, placeReq(10, 20, "#112233", "u1"))
	require.NoError(t, err)
	assert.Equal(t, "u1", res.Pixel.OwnerID)

	_, err = f.gate.Place(ctx, placeReq(11, 20, "#445566", "u1"))
	var cde *CooldownError
	require.ErrorAs(t, err, &cde)

	_, err = f.gate.Place(ctx, placeReq(10, 20, "#778899", "u2"))
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, pixel.Position{X: 10, Y: 20}, ce.Position)

	res, err = f.gate.Place(ctx, placeReq(12, 20, "#778899", "u2"))
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Pixel.OwnerID)

	stored, err := f.store.PixelAt(ctx, pixel.Position{X: 10, Y: 20})
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.OwnerID)
	assert.Equal(t, 2, f.pub.count())
}

func TestPlace_CooldownRecordedAfterCallerCancels(t *testing.T) {
	f := newGateFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.afterInsert = cancel

	res, err := f.gate.Place(ctx, placeReq(5, 5, "#FFFFFF", "u1"))
	require.NoError(t, err)
	assert.NoError(t, res.CooldownWriteErr)

	elig, err := f.gate.tracker.CheckEligibility(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
}
