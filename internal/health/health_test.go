package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping() error { return f.err }

type fakeHub struct{ n int }

func (f *fakeHub) SubscriberCount() int { return f.n }

type fakeCursors struct{ positions map[string]uint64 }

func (f *fakeCursors) CursorOf(source string) (uint64, bool, error) {
	pos, ok := f.positions[source]
	return pos, ok, nil
}

type fakeTip struct {
	tip uint64
	err error
}

func (f *fakeTip) Tip(ctx context.Context) (uint64, error) { return f.tip, f.err }

func TestReportHealthy(t *testing.T) {
	r := New(
		&fakePinger{},
		&fakeHub{n: 3},
		&fakeCursors{positions: map[string]uint64{"evm": 100, "move": 50}},
		&fakeTip{tip: 110},
		&fakeTip{tip: 55},
	)

	st := r.Report(context.Background())
	require.True(t, st.Healthy)
	require.True(t, st.StoreReachable)
	require.Equal(t, 3, st.Subscribers)
	require.Equal(t, uint64(100), st.EVMCursor)
	require.Equal(t, uint64(110), st.EVMTip)
	require.Equal(t, uint64(10), st.EVMLag)
	require.Equal(t, uint64(5), st.MoveLag)
}

func TestReportStoreUnreachable(t *testing.T) {
	r := New(&fakePinger{err: errors.New("db down")}, nil, nil, nil, nil)

	st := r.Report(context.Background())
	require.False(t, st.Healthy)
	require.False(t, st.StoreReachable)
}

func TestReportTipLookupFailureDegradesGracefully(t *testing.T) {
	r := New(&fakePinger{}, nil, &fakeCursors{positions: map[string]uint64{"evm": 10}}, &fakeTip{err: errors.New("rpc down")}, nil)

	st := r.Report(context.Background())
	require.True(t, st.Healthy)
	require.Equal(t, uint64(10), st.EVMCursor)
	require.Equal(t, uint64(0), st.EVMTip)
	require.Equal(t, uint64(0), st.EVMLag)
}
