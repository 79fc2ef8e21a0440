package transport_test

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/coolsocket/protocol"
	"github.com/luma/coolsocket/transport"
)

func channelPair() (*transport.Channel, *transport.Channel) {
	a, b := net.Pipe()
	return transport.NewChannel(a, transport.ChannelOptions{}),
		transport.NewChannel(b, transport.ChannelOptions{ChunkSize: 5})
}

func sendAsync(send func() error) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- send()
	}()
	return result
}

var _ = Describe("Channel", func() {
	var local, remote *transport.Channel

	BeforeEach(func() {
		local, remote = channelPair()
	})

	AfterEach(func() {
		local.Close()
		remote.Close()
	})

	It("has a unique id", func() {
		Expect(local.ID()).NotTo(Equal(remote.ID()))
	})

	for _, size := range []int{0, 1, 4096, 65*1024 + 3} {
		size := size

		It(fmt.Sprintf("delivers a %d byte message intact", size), func() {
			data := bytes.Repeat([]byte{'x'}, size)
			sent := sendAsync(func() error { return remote.Send(data) })

			resp, err := local.Receive()
			Expect(err).To(Succeed())
			Expect(resp.Length).To(Equal(int64(size)))
			Expect(bytes.Equal(resp.Bytes(), data)).To(BeTrue())
			Expect(resp.ChannelID).To(Equal(local.ID()))
			Eventually(sent).Should(Receive(BeNil()))
		})
	}

	It("reassembles chunked messages", func() {
		sent := sendAsync(func() error {
			return remote.SendChunks([]byte("Almost before "), []byte("we knew it"))
		})

		resp, err := local.Receive()
		Expect(err).To(Succeed())
		Expect(resp.Chunked).To(BeTrue())
		Expect(resp.String()).To(Equal("Almost before we knew it"))
		Eventually(sent).Should(Receive(BeNil()))
	})

	It("streams a reader as one message", func() {
		data := bytes.Repeat([]byte("stream"), 1000)
		sent := sendAsync(func() error { return remote.SendStream(bytes.NewReader(data)) })

		resp, err := local.Receive()
		Expect(err).To(Succeed())
		Expect(bytes.Equal(resp.Bytes(), data)).To(BeTrue())
		Eventually(sent).Should(Receive(BeNil()))
	})

	It("sends everything written to a stream writer as one message", func() {
		sent := sendAsync(func() error {
			w, err := remote.StreamWriter()
			if err != nil {
				return err
			}

			for _, part := range []string{"we had ", "left the ", "ground"} {
				if _, err := w.Write([]byte(part)); err != nil {
					return err
				}
			}

			return w.Close()
		})

		resp, err := local.Receive()
		Expect(err).To(Succeed())
		Expect(resp.String()).To(Equal("we had left the ground"))
		Eventually(sent).Should(Receive(BeNil()))

		// The stream released the channel for other sends
		sent = sendAsync(func() error { return remote.SendString("next") })
		resp, err = local.Receive()
		Expect(err).To(Succeed())
		Expect(resp.String()).To(Equal("next"))
	})

	It("never interleaves concurrent sends", func() {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(remote.SendString(fmt.Sprintf("message-%02d", i))).To(Succeed())
			}(i)
		}

		received := map[string]bool{}
		for i := 0; i < 10; i++ {
			resp, err := local.Receive()
			Expect(err).To(Succeed())
			received[resp.String()] = true
		}

		wg.Wait()
		Expect(received).To(HaveLen(10))
	})

	Describe("read timeout", func() {
		It("fails with ErrTimeout and stays usable", func() {
			local.SetReadTimeout(50 * time.Millisecond)
			Expect(local.ReadTimeout()).To(Equal(50 * time.Millisecond))

			_, err := local.Receive()
			Expect(errors.Is(err, protocol.ErrTimeout)).To(BeTrue())
			Expect(local.Closed()).To(BeFalse())

			sent := sendAsync(func() error { return remote.SendString("still here") })

			resp, err := local.Receive()
			Expect(err).To(Succeed())
			Expect(resp.String()).To(Equal("still here"))
			Eventually(sent).Should(Receive(BeNil()))
		})

		It("applies to each read rather than the whole message", func() {
			local.SetReadTimeout(200 * time.Millisecond)

			sent := sendAsync(func() error {
				w, err := remote.StreamWriter()
				if err != nil {
					return err
				}
				defer w.Close()

				for i := 0; i < 5; i++ {
					time.Sleep(100 * time.Millisecond)
					if _, err := w.Write([]byte("tick ")); err != nil {
						return err
					}
				}

				return nil
			})

			resp, err := local.Receive()
			Expect(err).To(Succeed())
			Expect(resp.String()).To(Equal("tick tick tick tick tick "))
			Eventually(sent).Should(Receive(BeNil()))
		})
	})

	Describe("Close()", func() {
		It("can be called repeatedly", func() {
			Expect(local.Close()).To(Succeed())
			Expect(local.Close()).To(Succeed())
			Expect(local.Closed()).To(BeTrue())
		})

		It("makes later sends and receives fail", func() {
			Expect(local.Close()).To(Succeed())

			Expect(errors.Is(local.SendString("nope"), protocol.ErrClosed)).To(BeTrue())

			_, err := local.Receive()
			Expect(errors.Is(err, protocol.ErrClosed)).To(BeTrue())

			_, err = local.StreamWriter()
			Expect(errors.Is(err, protocol.ErrClosed)).To(BeTrue())
		})

		It("unblocks a receive in progress", func() {
			result := make(chan error, 1)
			go func() {
				_, err := local.Receive()
				result <- err
			}()

			Consistently(result, 100*time.Millisecond).ShouldNot(Receive())
			Expect(local.Close()).To(Succeed())

			var err error
			Eventually(result).Should(Receive(&err))
			Expect(errors.Is(err, protocol.ErrClosed)).To(BeTrue())
		})

		It("is observed by the peer", func() {
			Expect(remote.Close()).To(Succeed())

			_, err := local.Receive()
			Expect(errors.Is(err, protocol.ErrIO)).To(BeTrue())
		})
	})
})
