package env_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/luma/coolsocket/internal/env"
)

var _ = Describe("LoadConfig", func() {
	It("falls back to defaults", func() {
		conf, err := env.LoadConfigWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
		Expect(err).To(Succeed())

		Expect(conf.Host).To(Equal("0.0.0.0"))
		Expect(conf.Port).To(Equal(7363))
		Expect(conf.HTTPPort).To(Equal("7362"))
		Expect(conf.AcceptTimeout).To(BeZero())
		Expect(conf.Reuseport).To(BeTrue())
		Expect(conf.LogLevel).To(Equal("info"))
		Expect(conf.TLSEnabled()).To(BeFalse())
	})

	It("reads the environment", func() {
		conf, err := env.LoadConfigWith(context.Background(), envconfig.MapLookuper(map[string]string{
			"COOLSOCKET_HOST":           "127.0.0.1",
			"COOLSOCKET_PORT":           "9000",
			"COOLSOCKET_ACCEPT_TIMEOUT": "250ms",
			"COOLSOCKET_READ_TIMEOUT":   "3s",
			"COOLSOCKET_MAX_FRAME_SIZE": "1048576",
			"COOLSOCKET_REUSEPORT":      "false",
			"COOLSOCKET_TLS_CERT":       "cert.pem",
			"COOLSOCKET_TLS_KEY":        "key.pem",
			"COOLSOCKET_LOG_LEVEL":      "debug",
		}))
		Expect(err).To(Succeed())

		Expect(conf.Host).To(Equal("127.0.0.1"))
		Expect(conf.Port).To(Equal(9000))
		Expect(conf.AcceptTimeout).To(Equal(250 * time.Millisecond))
		Expect(conf.ReadTimeout).To(Equal(3 * time.Second))
		Expect(conf.MaxFrameSize).To(Equal(int64(1 << 20)))
		Expect(conf.Reuseport).To(BeFalse())
		Expect(conf.TLSEnabled()).To(BeTrue())
		Expect(conf.LogLevel).To(Equal("debug"))
	})

	It("rejects malformed values", func() {
		_, err := env.LoadConfigWith(context.Background(), envconfig.MapLookuper(map[string]string{
			"COOLSOCKET_PORT": "not a port",
		}))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("MakeLogger", func() {
	It("builds a logger at the requested level", func() {
		log, err := env.MakeLogger("warn")
		Expect(err).To(Succeed())

		Expect(log.Core().Enabled(zapcore.WarnLevel)).To(BeTrue())
		Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeFalse())
	})

	It("rejects unknown levels", func() {
		_, err := env.MakeLogger("loud")
		Expect(err).To(HaveOccurred())
	})
})
