package main

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pion/webrtc/v4"
)

func writeConfig(content string) string {
	path := filepath.Join(GinkgoT().TempDir(), "relay.toml")
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	return path
}

var _ = Describe("Relay config", func() {
	It("uses the defaults without a file", func() {
		cfg, err := LoadRelayConfig("")
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Listen).To(Equal(DefaultListenAddr))
		Expect(cfg.slotTimeout).To(Equal(DefaultSlotTimeout))
		Expect(cfg.MaxSlots).To(Equal(DefaultMaxSlots))
		Expect(cfg.Metrics).To(BeFalse())
		Expect(cfg.WebRTCICEServers()).To(Equal([]webrtc.ICEServer{{
			URLs: []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"},
		}}))
	})

	It("reads every setting from the file", func() {
		path := writeConfig(`
listen = "127.0.0.1:9000"
slot_timeout = "90s"
max_slots = 16
metrics = true

[[ice_servers]]
urls = ["turn:turn.example.org:3478"]
username = "ww"
credential = "secret"
`)

		cfg, err := LoadRelayConfig(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Listen).To(Equal("127.0.0.1:9000"))
		Expect(cfg.slotTimeout).To(Equal(90 * time.Second))
		Expect(cfg.MaxSlots).To(Equal(16))
		Expect(cfg.Metrics).To(BeTrue())
		Expect(cfg.WebRTCICEServers()).To(Equal([]webrtc.ICEServer{{
			URLs:       []string{"turn:turn.example.org:3478"},
			Username:   "ww",
			Credential: "secret",
		}}))
	})

	It("keeps defaults for settings the file leaves out", func() {
		cfg, err := LoadRelayConfig(writeConfig(`metrics = true`))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Metrics).To(BeTrue())
		Expect(cfg.Listen).To(Equal(DefaultListenAddr))
		Expect(cfg.slotTimeout).To(Equal(DefaultSlotTimeout))
	})

	DescribeTable("rejects invalid files",
		func(content string, message string) {
			_, err := LoadRelayConfig(writeConfig(content))
			Expect(err).To(MatchError(ContainSubstring(message)))
		},
		Entry("malformed toml", `listen = `, "decode config"),
		Entry("bad duration", `slot_timeout = "soon"`, "slot_timeout"),
		Entry("negative duration", `slot_timeout = "-1s"`, "slot_timeout must be positive"),
		Entry("no slots", `max_slots = 0`, "max_slots must be positive"),
		Entry("server without urls", "[[ice_servers]]\nusername = \"ww\"", "ice_servers[0] has no urls"),
	)

	It("fails on files that do not exist", func() {
		_, err := LoadRelayConfig(filepath.Join(GinkgoT().TempDir(), "missing.toml"))
		Expect(err).To(MatchError(ContainSubstring("read config")))
	})
})
