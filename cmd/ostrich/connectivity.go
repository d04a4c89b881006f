package main

import (
	"context"
	"fmt"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
)

// testStreamTarget and testPacketTarget are fixed, well-known reachable
// endpoints used only to prove an outbound can dial out at all; neither
// is this gateway's traffic, so no payload beyond the handshake itself
// is exchanged.
const (
	testStreamTarget = "1.1.1.1:443"
	testPacketTarget = "8.8.8.8:53"
)

// runConnectivityTest mirrors the original source's -t/-d flags
// (ostrich-bin/src/main.rs's test_outbound option): it dials the named
// outbound's stream and datagram capabilities independently and reports
// each result, rather than failing the whole test on the first error.
func runConnectivityTest(configPath, tag string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("test outbound failed: %w", err)
	}

	outbounds, err := outbound.Build(cfg.Outbounds)
	if err != nil {
		return fmt.Errorf("test outbound failed: %w", err)
	}

	h, ok := outbounds.Get(tag)
	if !ok {
		return fmt.Errorf("test outbound failed: no such outbound %q", tag)
	}

	caps := h.Capabilities()
	if caps.Has(outbound.CapStream) {
		elapsed, err := testDialStream(h, timeout)
		reportDialResult("TCP", elapsed, err)
	}
	if caps.Has(outbound.CapDatagram) {
		elapsed, err := testDialPacket(h, timeout)
		reportDialResult("UDP", elapsed, err)
	}
	return nil
}

func testDialStream(h outbound.Handler, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	conn, err := h.DialStream(ctx, testStreamTarget)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, err
	}
	conn.Close()
	return elapsed, nil
}

func testDialPacket(h outbound.Handler, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	conn, err := h.DialPacket(ctx, testPacketTarget)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, err
	}
	conn.Close()
	return elapsed, nil
}

func reportDialResult(proto string, d time.Duration, err error) {
	if err != nil {
		fmt.Printf("%s failed: %v\n", proto, err)
		return
	}
	fmt.Printf("%s ok in %dms\n", proto, d.Milliseconds())
}
