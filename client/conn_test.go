package client_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/coolsocket/client"
	"github.com/luma/coolsocket/protocol"
	"github.com/luma/coolsocket/transport"
)

var echo = transport.ClientHandlerFunc(func(ctx context.Context, ch *transport.Channel) error {
	for {
		resp, err := ch.Receive()
		if err != nil {
			return err
		}

		if err := ch.Send(resp.Bytes()); err != nil {
			return err
		}
	}
})

// selfSigned returns a certificate for 127.0.0.1 and a pool that trusts it.
func selfSigned() (tls.Certificate, *x509.CertPool) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	Expect(err).To(Succeed())

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "coolsocket test"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	Expect(err).To(Succeed())

	leaf, err := x509.ParseCertificate(der)
	Expect(err).To(Succeed())

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

func addrOf(server *transport.Server) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(server.LocalPort()))
}

var _ = Describe("Connect", func() {
	var server *transport.Server

	AfterEach(func() {
		if server != nil && server.IsListening() {
			Expect(server.Stop(5 * time.Second)).To(Succeed())
		}
		server = nil
	})

	It("exchanges messages with a server", func() {
		server = transport.NewServer(transport.Options{Host: "127.0.0.1", Handler: echo})
		Expect(server.Start(transport.NoTimeout)).To(Succeed())

		ch, err := client.Connect(addrOf(server), time.Second)
		Expect(err).To(Succeed())
		defer ch.Close()

		for _, message := range []string{"", "hello", "hello again"} {
			Expect(ch.SendString(message)).To(Succeed())

			resp, err := ch.Receive()
			Expect(err).To(Succeed())
			Expect(resp.String()).To(Equal(message))
		}
	})

	It("fails with an i/o error when nobody listens", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(Succeed())
		addr := listener.Addr().String()
		Expect(listener.Close()).To(Succeed())

		_, err = client.Connect(addr, time.Second)
		Expect(errors.Is(err, protocol.ErrIO)).To(BeTrue())
		Expect(errors.Is(err, protocol.ErrTimeout)).To(BeFalse())
	})

	It("reports an expired context as a timeout", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()

		d := client.Dialer{}
		_, err := d.Connect(ctx, "127.0.0.1:1")
		Expect(errors.Is(err, protocol.ErrIO)).To(BeTrue())
		Expect(errors.Is(err, protocol.ErrTimeout)).To(BeTrue())
	})

	It("applies the read timeout to the channel", func() {
		server = transport.NewServer(transport.Options{Host: "127.0.0.1", Handler: echo})
		Expect(server.Start(transport.NoTimeout)).To(Succeed())

		d := client.Dialer{Timeout: time.Second, ReadTimeout: 30 * time.Millisecond}
		ch, err := d.Connect(context.Background(), addrOf(server))
		Expect(err).To(Succeed())
		defer ch.Close()

		_, err = ch.Receive()
		Expect(errors.Is(err, protocol.ErrTimeout)).To(BeTrue())

		Expect(ch.SendString("still usable")).To(Succeed())
		resp, err := ch.Receive()
		Expect(err).To(Succeed())
		Expect(resp.String()).To(Equal("still usable"))
	})

	It("talks to a TLS server", func() {
		cert, pool := selfSigned()

		server = transport.NewServer(transport.Options{
			Host:      "127.0.0.1",
			Handler:   echo,
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		})
		Expect(server.Start(transport.NoTimeout)).To(Succeed())

		d := client.Dialer{
			Timeout:   time.Second,
			TLSConfig: &tls.Config{RootCAs: pool, ServerName: "127.0.0.1"},
		}
		ch, err := d.Connect(context.Background(), addrOf(server))
		Expect(err).To(Succeed())
		defer ch.Close()

		Expect(ch.SendChunks([]byte("over "), []byte("tls"))).To(Succeed())

		resp, err := ch.Receive()
		Expect(err).To(Succeed())
		Expect(resp.String()).To(Equal("over tls"))
	})
})
