package logstore

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"
	"strings"

	"github.com/foxglove/mcap/go/mcap"
)

const (
	defaultProfile   = "ros2"
	defaultChunkSize = 4 * 1024 * 1024
	libraryName      = "replay-testing"
)

// MCAPStore opens and creates MCAP files on local disk.
type MCAPStore struct {
	Profile     string
	Compression mcap.CompressionFormat
	ChunkSize   int64
}

func NewMCAPStore() *MCAPStore {
	return &MCAPStore{
		Profile:     defaultProfile,
		Compression: mcap.CompressionZSTD,
		ChunkSize:   defaultChunkSize,
	}
}

func (s *MCAPStore) Open(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return &mcapReader{path: path, f: f}, nil
}

func (s *MCAPStore) Create(path string) (Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	w, err := mcap.NewWriter(f, &mcap.WriterOptions{
		IncludeCRC:  true,
		Chunked:     true,
		ChunkSize:   chunkSize,
		Compression: s.Compression,
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create log writer: %w", err)
	}
	profile := strings.TrimSpace(s.Profile)
	if profile == "" {
		profile = defaultProfile
	}
	if err := w.WriteHeader(&mcap.Header{Profile: profile, Library: libraryName}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &mcapWriter{
		f:        f,
		w:        w,
		channels: map[string]uint16{},
		schemas:  map[string]uint16{},
	}, nil
}

type mcapReader struct {
	path string
	f    *os.File
}

func (r *mcapReader) Path() string { return r.path }

func (r *mcapReader) Close() error {
	if r == nil || r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *mcapReader) rewind() (*mcap.Reader, error) {
	if r.f == nil {
		return nil, errors.New("log reader closed")
	}
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, err := mcap.NewReader(r.f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	return reader, nil
}

// Topics prefers the summary section and falls back to a linear scan for logs that
// were not finalized.
func (r *mcapReader) Topics() ([]Topic, error) {
	reader, err := r.rewind()
	if err != nil {
		return nil, err
	}
	info, err := reader.Info()
	if err != nil || info == nil {
		return r.scanTopics()
	}

	ids := make([]int, 0, len(info.Channels))
	for id := range info.Channels {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	// Several channels may share a topic; the first one declares it.
	topics := make([]Topic, 0, len(ids))
	index := map[string]int{}
	for _, id := range ids {
		ch := info.Channels[uint16(id)]
		var count uint64
		if info.Statistics != nil {
			count = info.Statistics.ChannelMessageCounts[ch.ID]
		}
		if i, ok := index[ch.Topic]; ok {
			topics[i].MessageCount += count
			continue
		}
		t := Topic{
			Name:            ch.Topic,
			MessageEncoding: ch.MessageEncoding,
			Metadata:        ch.Metadata,
		}
		if schema, ok := info.Schemas[ch.SchemaID]; ok && schema != nil {
			t.Schema = Schema{Name: schema.Name, Encoding: schema.Encoding, Data: schema.Data}
		}
		t.MessageCount = count
		index[ch.Topic] = len(topics)
		topics = append(topics, t)
	}
	return topics, nil
}

func (r *mcapReader) scanTopics() ([]Topic, error) {
	reader, err := r.rewind()
	if err != nil {
		return nil, err
	}
	it, err := reader.Messages(mcap.UsingIndex(false))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.path, err)
	}
	var topics []Topic
	index := map[string]int{}
	for {
		schema, ch, _, err := it.Next(nil)
		if errors.Is(err, io.EOF) {
			return topics, nil
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.path, err)
		}
		if i, ok := index[ch.Topic]; ok {
			topics[i].MessageCount++
			continue
		}
		t := Topic{Name: ch.Topic, MessageEncoding: ch.MessageEncoding, Metadata: ch.Metadata, MessageCount: 1}
		if schema != nil {
			t.Schema = Schema{Name: schema.Name, Encoding: schema.Encoding, Data: schema.Data}
		}
		index[ch.Topic] = len(topics)
		topics = append(topics, t)
	}
}

func (r *mcapReader) Messages(topics ...string) iter.Seq2[Message, error] {
	want := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		want[t] = struct{}{}
	}
	return func(yield func(Message, error) bool) {
		reader, err := r.rewind()
		if err != nil {
			yield(Message{}, err)
			return
		}
		it, err := reader.Messages(mcap.UsingIndex(false))
		if err != nil {
			yield(Message{}, fmt.Errorf("read %s: %w", r.path, err))
			return
		}
		for {
			schema, ch, msg, err := it.Next(nil)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Message{}, fmt.Errorf("read %s: %w", r.path, err))
				return
			}
			if len(want) > 0 {
				if _, ok := want[ch.Topic]; !ok {
					continue
				}
			}
			out := Message{
				Topic:       ch.Topic,
				Sequence:    msg.Sequence,
				LogTime:     msg.LogTime,
				PublishTime: msg.PublishTime,
				Data:        append([]byte(nil), msg.Data...),
			}
			if schema != nil {
				out.Schema = schema.Name
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

type mcapWriter struct {
	f           *os.File
	w           *mcap.Writer
	channels    map[string]uint16
	schemas     map[string]uint16
	nextChannel uint16
	nextSchema  uint16
}

func (w *mcapWriter) CreateTopic(topic Topic) error {
	name := strings.TrimSpace(topic.Name)
	if name == "" {
		return errors.New("topic name is required")
	}
	if _, ok := w.channels[name]; ok {
		return fmt.Errorf("topic %s already declared", name)
	}

	var schemaID uint16
	if topic.Schema.Name != "" || len(topic.Schema.Data) > 0 {
		key := topic.Schema.Name + "\x00" + topic.Schema.Encoding + "\x00" + string(topic.Schema.Data)
		id, ok := w.schemas[key]
		if !ok {
			w.nextSchema++
			id = w.nextSchema
			if err := w.w.WriteSchema(&mcap.Schema{
				ID:       id,
				Name:     topic.Schema.Name,
				Encoding: topic.Schema.Encoding,
				Data:     topic.Schema.Data,
			}); err != nil {
				return fmt.Errorf("write schema %s: %w", topic.Schema.Name, err)
			}
			w.schemas[key] = id
		}
		schemaID = id
	}

	w.nextChannel++
	id := w.nextChannel
	metadata := topic.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if err := w.w.WriteChannel(&mcap.Channel{
		ID:              id,
		SchemaID:        schemaID,
		Topic:           name,
		MessageEncoding: topic.MessageEncoding,
		Metadata:        metadata,
	}); err != nil {
		return fmt.Errorf("write channel %s: %w", name, err)
	}
	w.channels[name] = id
	return nil
}

func (w *mcapWriter) Write(msg Message) error {
	id, ok := w.channels[msg.Topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, msg.Topic)
	}
	return w.w.WriteMessage(&mcap.Message{
		ChannelID:   id,
		Sequence:    msg.Sequence,
		LogTime:     msg.LogTime,
		PublishTime: msg.PublishTime,
		Data:        msg.Data,
	})
}

func (w *mcapWriter) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.w.Close()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}
