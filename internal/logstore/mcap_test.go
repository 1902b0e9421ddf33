package logstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/stretchr/testify/require"
)

func twistTopic(name string) Topic {
	return Topic{
		Name:            name,
		MessageEncoding: "cdr",
		Schema:          Schema{Name: "geometry_msgs/msg/Twist", Encoding: "ros2msg", Data: []byte("Vector3 linear\nVector3 angular")},
	}
}

func writeSample(t *testing.T, path string) {
	t.Helper()
	topics := []Topic{twistTopic("/vehicle/cmd_vel"), twistTopic("/user/cmd_vel"), {Name: "/rosout", MessageEncoding: "cdr"}}
	msgs := []Message{
		{Topic: "/vehicle/cmd_vel", Sequence: 1, LogTime: 10, PublishTime: 10, Data: []byte{1, 2, 3}},
		{Topic: "/user/cmd_vel", Sequence: 1, LogTime: 20, PublishTime: 19, Data: []byte{4}},
		{Topic: "/vehicle/cmd_vel", Sequence: 2, LogTime: 30, PublishTime: 30, Data: []byte{5, 6}},
	}
	require.NoError(t, WriteAll(NewMCAPStore(), path, topics, msgs))
}

func TestMCAPRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.mcap")
	writeSample(t, path)

	ok, err := HasMagic(path)
	require.NoError(t, err)
	require.True(t, ok)

	r, err := NewMCAPStore().Open(path)
	require.NoError(t, err)
	defer r.Close()

	topics, err := r.Topics()
	require.NoError(t, err)
	require.Len(t, topics, 3)
	require.Equal(t, "/vehicle/cmd_vel", topics[0].Name)
	require.Equal(t, "geometry_msgs/msg/Twist", topics[0].Schema.Name)
	require.Equal(t, uint64(2), topics[0].MessageCount)
	require.Equal(t, "/rosout", topics[2].Name)

	var got []Message
	for msg, err := range r.Messages() {
		require.NoError(t, err)
		got = append(got, msg)
	}
	require.Len(t, got, 3)
	require.Equal(t, []byte{1, 2, 3}, got[0].Data)
	require.Equal(t, uint64(19), got[1].PublishTime)
	require.Equal(t, "geometry_msgs/msg/Twist", got[1].Schema)
}

func TestMessagesTopicFilterAndCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.mcap")
	writeSample(t, path)

	r, err := NewMCAPStore().Open(path)
	require.NoError(t, err)
	defer r.Close()

	n, err := Count(r, "/vehicle/cmd_vel")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	counts, err := CountByTopic(r)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"/vehicle/cmd_vel": 2, "/user/cmd_vel": 1}, counts)

	names, err := TopicNames(r)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/vehicle/cmd_vel", "/user/cmd_vel", "/rosout"}, names)
}

func TestWriterRejectsUndeclaredTopic(t *testing.T) {
	w, err := NewMCAPStore().Create(filepath.Join(t.TempDir(), "out.mcap"))
	require.NoError(t, err)
	err = w.Write(Message{Topic: "/nope"})
	require.True(t, errors.Is(err, ErrUnknownTopic))
	require.Error(t, w.CreateTopic(Topic{Name: " "}))
	require.NoError(t, w.CreateTopic(Topic{Name: "/a"}))
	require.Error(t, w.CreateTopic(Topic{Name: "/a"}))
	require.NoError(t, w.Close())
}

func TestHasMagic(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.mcap")
	require.NoError(t, os.WriteFile(bad, []byte("not an mcap file"), 0o644))
	ok, err := HasMagic(bad)
	require.NoError(t, err)
	require.False(t, ok)

	short := filepath.Join(dir, "short.mcap")
	require.NoError(t, os.WriteFile(short, []byte{0x89}, 0o644))
	ok, err = HasMagic(short)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = HasMagic(filepath.Join(dir, "missing.mcap"))
	require.Error(t, err)
}

func TestTopicsMergesChannelsOfOneTopic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.mcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := mcap.NewWriter(f, &mcap.WriterOptions{Chunked: true, ChunkSize: 1024})
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&mcap.Header{Profile: "ros2"}))
	for id, node := range map[uint16]string{1: "/talker_a", 2: "/talker_b"} {
		require.NoError(t, w.WriteChannel(&mcap.Channel{ID: id, Topic: "/chatter", MessageEncoding: "cdr", Metadata: map[string]string{"node": node}}))
		require.NoError(t, w.WriteMessage(&mcap.Message{ChannelID: id, LogTime: uint64(id), Data: []byte{byte(id)}}))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	r, err := NewMCAPStore().Open(path)
	require.NoError(t, err)
	defer r.Close()
	topics, err := r.Topics()
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, "/chatter", topics[0].Name)
	require.Equal(t, uint64(2), topics[0].MessageCount)

	out := NewMCAPStore()
	w2, err := out.Create(filepath.Join(t.TempDir(), "copy.mcap"))
	require.NoError(t, err)
	require.NoError(t, w2.CreateTopic(topics[0]))
	for msg, err := range r.Messages() {
		require.NoError(t, err)
		require.NoError(t, w2.Write(msg))
	}
	require.NoError(t, w2.Close())
}
