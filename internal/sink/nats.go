package sink

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/nats-io/nats.go"
)

// ChannelHeader carries the console channel of a published chunk.
const ChannelHeader = "Cftail-Channel"

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "cftail"

// NATS publishes tailed content, one message per fetched chunk.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// NewNATS publishes on conn below prefix.
func NewNATS(conn *nats.Conn, prefix string) *NATS {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{conn: conn, prefix: prefix}
}

// Subject returns the subject used for one stream of an instance.
func (n *NATS) Subject(app string, instance int, stream string) string {
	return n.prefix + "." + token(app) + "." + strconv.Itoa(instance) + "." + token(stream)
}

// Stream returns the sink of one stream of an instance.
func (n *NATS) Stream(app string, instance int, stream string, ch tail.Channel) tail.Sink {
	return &natsStream{conn: n.conn, subject: n.Subject(app, instance, stream), channel: ch}
}

// token makes s usable as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

type natsStream struct {
	conn    *nats.Conn
	subject string
	channel tail.Channel
	closed  atomic.Bool
}

func (s *natsStream) Write(text string) error {
	if s.closed.Load() || text == "" {
		return nil
	}
	msg := nats.NewMsg(s.subject)
	msg.Header.Set(ChannelHeader, s.channel.String())
	msg.Data = []byte(text)
	return s.conn.PublishMsg(msg)
}

// Close flushes pending publishes. The connection stays open; it is shared
// by every stream.
func (s *natsStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Flush()
}
