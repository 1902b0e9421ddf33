package filter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/logstore"
)

func sample(t *testing.T, store logstore.Store, path string) {
	t.Helper()
	topics := []logstore.Topic{
		{Name: "/vehicle/cmd_vel", MessageEncoding: "cdr", Schema: logstore.Schema{Name: "geometry_msgs/msg/Twist", Encoding: "ros2msg"}},
		{Name: "/user/cmd_vel", MessageEncoding: "cdr", Schema: logstore.Schema{Name: "geometry_msgs/msg/Twist", Encoding: "ros2msg"}},
		{Name: "/tf", MessageEncoding: "cdr"},
	}
	msgs := []logstore.Message{
		{Topic: "/vehicle/cmd_vel", Sequence: 7, LogTime: 100, PublishTime: 99, Data: []byte{0xde, 0xad}},
		{Topic: "/user/cmd_vel", LogTime: 150, PublishTime: 150, Data: []byte{0x01}},
		{Topic: "/tf", LogTime: 175, PublishTime: 170, Data: []byte{0x02}},
		{Topic: "/vehicle/cmd_vel", Sequence: 8, LogTime: 200, PublishTime: 199, Data: []byte{0xbe, 0xef}},
	}
	require.NoError(t, logstore.WriteAll(store, path, topics, msgs))
}

func readAll(t *testing.T, store logstore.Store, path string) ([]string, []logstore.Message) {
	t.Helper()
	r, err := store.Open(path)
	require.NoError(t, err)
	defer r.Close()
	names, err := logstore.TopicNames(r)
	require.NoError(t, err)
	var msgs []logstore.Message
	for m, err := range r.Messages() {
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	return names, msgs
}

func TestFilterDropsExcludedTopics(t *testing.T) {
	store := logstore.NewMCAPStore()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mcap")
	out := filepath.Join(dir, "nested", "filtered_fixture.mcap")
	sample(t, store, in)

	require.NoError(t, Filter(context.Background(), store, in, out, []string{"/user/cmd_vel"}))

	names, msgs := readAll(t, store, out)
	require.Equal(t, []string{"/vehicle/cmd_vel", "/tf"}, names)
	require.Len(t, msgs, 3)
	require.Equal(t, uint32(7), msgs[0].Sequence)
	require.Equal(t, uint64(99), msgs[0].PublishTime)
	require.Equal(t, []byte{0xde, 0xad}, msgs[0].Data)
	require.Equal(t, "/tf", msgs[1].Topic)
	require.Equal(t, []byte{0xbe, 0xef}, msgs[2].Data)
}

func TestFilterIdempotent(t *testing.T) {
	store := logstore.NewMCAPStore()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mcap")
	once := filepath.Join(dir, "once.mcap")
	twice := filepath.Join(dir, "twice.mcap")
	sample(t, store, in)

	excluded := []string{"/user/cmd_vel", "/tf"}
	require.NoError(t, Filter(context.Background(), store, in, once, excluded))
	require.NoError(t, Filter(context.Background(), store, once, twice, excluded))

	onceNames, onceMsgs := readAll(t, store, once)
	twiceNames, twiceMsgs := readAll(t, store, twice)
	require.Equal(t, onceNames, twiceNames)
	require.Equal(t, onceMsgs, twiceMsgs)
}

func TestFilterEmptyExclusionCopiesEverything(t *testing.T) {
	store := logstore.NewMCAPStore()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mcap")
	out := filepath.Join(dir, "out.mcap")
	sample(t, store, in)

	require.NoError(t, Filter(context.Background(), store, in, out, nil))
	_, msgs := readAll(t, store, out)
	require.Len(t, msgs, 4)
}

func TestFilterMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := Filter(context.Background(), logstore.NewMCAPStore(), filepath.Join(dir, "missing.mcap"), filepath.Join(dir, "out.mcap"), nil)
	require.True(t, errors.Is(err, domain.ErrFilter), "err=%v", err)
}

func TestFilterCancelledLeavesNoOutput(t *testing.T) {
	store := logstore.NewMCAPStore()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mcap")
	out := filepath.Join(dir, "fixture", "filtered_fixture.mcap")
	sample(t, store, in)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Filter(ctx, store, in, out, []string{"/user/cmd_vel"})
	require.True(t, errors.Is(err, domain.ErrFilter), "err=%v", err)
	require.True(t, errors.Is(err, context.Canceled), "err=%v", err)

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	require.Empty(t, entries, "no partial output may remain")
}
