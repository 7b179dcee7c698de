package prom

import (
	"gfx.cafe/open/gotoprom"
	"github.com/prometheus/client_golang/prometheus"
)

type ListenerLabels struct {
	ListenAddr string `label:"listen_addr"`
}

var Listener struct {
	Incoming func(ListenerLabels) prometheus.Counter `name:"incoming" help:"incoming connections"`
	Accepted func(ListenerLabels) prometheus.Counter `name:"accepted" help:"accepted connections"`
	Client   func(ListenerLabels) prometheus.Gauge   `name:"client" help:"current clients"`
}

type SessionLabels struct {
	Mode string `label:"mode"`
}

type SessionCloseLabels struct {
	Mode  string `label:"mode"`
	Cause string `label:"cause"`
}

var Session struct {
	Handshakes  func(SessionLabels) prometheus.Counter      `name:"handshakes" help:"sessions established"`
	HandshakeMs func(SessionLabels) prometheus.Histogram    `name:"handshake_ms" buckets:"0.1,0.25,0.5,1,5,10,50,100,500,1000" help:"ms to establish a session"`
	Current     func(SessionLabels) prometheus.Gauge        `name:"current" help:"sessions currently open"`
	Closed      func(SessionCloseLabels) prometheus.Counter `name:"closed" help:"sessions closed"`
}

type RelayLabels struct {
	Mode      string `label:"mode"`
	Direction string `label:"direction"`
}

var Relay struct {
	Bytes func(RelayLabels) prometheus.Counter `name:"bytes" help:"bytes relayed"`
}

func init() {
	gotoprom.MustInit(&Listener, "sgat_listener", prometheus.Labels{})
	gotoprom.MustInit(&Session, "sgat_session", prometheus.Labels{})
	gotoprom.MustInit(&Relay, "sgat_relay", prometheus.Labels{})
}
