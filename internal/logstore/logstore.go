// Package logstore reads and writes topic-addressed message logs.
package logstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
)

// Magic is the leading byte sequence of every MCAP file.
var Magic = []byte("\x89MCAP0\r\n")

type Schema struct {
	Name     string
	Encoding string
	Data     []byte
}

// Topic is a channel declaration. MessageCount is informational and may be zero
// when the log carries no statistics.
type Topic struct {
	Name            string
	MessageEncoding string
	Schema          Schema
	Metadata        map[string]string
	MessageCount    uint64
}

type Message struct {
	Topic       string
	Schema      string
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

// Reader is a read-only handle on one log. It is not safe for concurrent use.
type Reader interface {
	Path() string
	Topics() ([]Topic, error)
	// Messages yields messages in file order, restricted to topics when any are given.
	Messages(topics ...string) iter.Seq2[Message, error]
	Close() error
}

type Writer interface {
	CreateTopic(topic Topic) error
	Write(msg Message) error
	Close() error
}

type Store interface {
	Open(path string) (Reader, error)
	Create(path string) (Writer, error)
}

var ErrUnknownTopic = errors.New("topic not declared")

// HasMagic reports whether the file at path starts with the MCAP magic.
func HasMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	buf := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(buf, Magic), nil
}

// TopicNames returns the names of the topics declared in r.
func TopicNames(r Reader) ([]string, error) {
	topics, err := r.Topics()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Name)
	}
	return names, nil
}

// CountByTopic scans r once and counts messages per topic.
func CountByTopic(r Reader) (map[string]int, error) {
	counts := map[string]int{}
	for msg, err := range r.Messages() {
		if err != nil {
			return nil, err
		}
		counts[msg.Topic]++
	}
	return counts, nil
}

// Count returns the number of messages published on topic.
func Count(r Reader, topic string) (int, error) {
	n := 0
	for _, err := range r.Messages(topic) {
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", topic, err)
		}
		n++
	}
	return n, nil
}

// WriteAll creates path with the given topics and messages.
func WriteAll(s Store, path string, topics []Topic, msgs []Message) error {
	w, err := s.Create(path)
	if err != nil {
		return err
	}
	for _, t := range topics {
		if err := w.CreateTopic(t); err != nil {
			_ = w.Close()
			return err
		}
	}
	for _, m := range msgs {
		if err := w.Write(m); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
