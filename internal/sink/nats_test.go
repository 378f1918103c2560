package sink_test

import (
	"time"

	"github.com/clarabennett2626/cftail/internal/sink"
	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/nats-io/nats.go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NATS", func() {
	var conn *nats.Conn
	var msgs chan *nats.Msg

	BeforeEach(func() {
		var err error
		conn, err = nats.Connect(natsURL)
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(conn.Close)

		msgs = make(chan *nats.Msg, 16)
		sub, err := conn.ChanSubscribe("logs.>", msgs)
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(sub.Unsubscribe)
		Expect(conn.Flush()).To(Succeed())
	})

	It("builds subjects from app, instance and stream", func() {
		n := sink.NewNATS(conn, "logs.")
		Expect(n.Subject("my.app", 3, "stderr")).To(Equal("logs.my_app.3.stderr"))
		Expect(sink.NewNATS(conn, "").Subject("web", 0, "stdout")).To(Equal("cftail.web.0.stdout"))
	})

	It("publishes each chunk with its channel", func() {
		s := sink.NewNATS(conn, "logs").Stream("web", 0, "stderr", tail.Error)
		Expect(s.Write("boom\n")).To(Succeed())
		Expect(s.Close()).To(Succeed())

		var msg *nats.Msg
		Eventually(msgs).WithTimeout(5 * time.Second).Should(Receive(&msg))
		Expect(msg.Subject).To(Equal("logs.web.0.stderr"))
		Expect(string(msg.Data)).To(Equal("boom\n"))
		Expect(msg.Header.Get(sink.ChannelHeader)).To(Equal("stderr"))
	})

	It("drops writes after close and closes only once", func() {
		s := sink.NewNATS(conn, "logs").Stream("web", 1, "stdout", tail.Standard)
		Expect(s.Close()).To(Succeed())
		Expect(s.Close()).To(Succeed())
		Expect(s.Write("late\n")).To(Succeed())
		Expect(conn.Flush()).To(Succeed())

		Consistently(msgs).WithTimeout(200 * time.Millisecond).ShouldNot(Receive())
	})

	It("skips empty chunks", func() {
		s := sink.NewNATS(conn, "logs").Stream("web", 2, "stdout", tail.Standard)
		Expect(s.Write("")).To(Succeed())
		Expect(s.Close()).To(Succeed())

		Consistently(msgs).WithTimeout(200 * time.Millisecond).ShouldNot(Receive())
	})
})
