// Command ostrich is the gateway's CLI entry point, grounded on the
// original source's ostrich-bin/src/main.rs argument set (-c, -T, -t/-d,
// --single-thread, --thread-stack-size, -b, -V) and on the teacher's
// x/examples/outline-cli/main.go for the signal-driven run/shutdown
// shape of a long-lived local proxy process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
	"github.com/outline-sdk-contrib/ostrich-gateway/runtimemgr"

	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/amux"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/chain"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/direct"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/httpconnect"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/quicinbound"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/quicoutbound"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/shadowsocks"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/socks"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/tls"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/trojan"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/tun"
	_ "github.com/outline-sdk-contrib/ostrich-gateway/proxy/websocket"
)

// version is set by the release build via -ldflags; left as "unknown"
// for a plain `go build`, matching the original source's
// get_version_string() falling back to "unknown" outside a tagged
// release.
var version = "unknown"

func defaultThreadStackSize() int {
	return 256 * 1024
}

func main() {
	configPath := flag.String("c", "config.yaml", "the configuration file")
	test := flag.Bool("T", false, "tests the configuration and exit")
	testOutbound := flag.String("t", "", "tests the connectivity of the named outbound")
	testOutboundTimeout := flag.Int("d", 4, "timeout for outbound connectivity tests, in seconds")
	singleThread := flag.Bool("single-thread", false, "runs in a single thread")
	threadStackSize := flag.Int("thread-stack-size", defaultThreadStackSize(), "sets the stack size of runtime worker threads, in bytes")
	boundIf := flag.String("b", "", "bound interface, explicitly sets the OUTBOUND_INTERFACE environment variable")
	showVersion := flag.Bool("V", false, "prints version")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if *boundIf != "" {
		os.Setenv("OUTBOUND_INTERFACE", *boundIf)
	}

	if *test {
		cfg, err := config.Load(*configPath)
		if err == nil {
			defined := make(map[string]bool, len(cfg.Outbounds))
			for _, o := range cfg.Outbounds {
				defined[o.Tag] = true
			}
			for _, r := range cfg.Router.Rules {
				if !defined[r.Outbound] {
					err = fmt.Errorf("router rule references undefined outbound tag %q", r.Outbound)
					break
				}
			}
		}
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		fmt.Println("ok")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.RuntimeCfg.SingleThread = cfg.RuntimeCfg.SingleThread || *singleThread
	if *threadStackSize > 0 {
		cfg.RuntimeCfg.ThreadStackSize = *threadStackSize
	}
	// Go has no per-thread stack-size knob to map thread_stack_size onto
	// (goroutine stacks grow on demand), but single_thread has a direct
	// equivalent: pin the scheduler to one OS thread.
	if cfg.RuntimeCfg.SingleThread {
		runtime.GOMAXPROCS(1)
	}

	if *testOutbound != "" {
		timeout := time.Duration(*testOutboundTimeout) * time.Second
		if err := runConnectivityTest(*configPath, *testOutbound, timeout); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	mgr := runtimemgr.New()
	rt, err := mgr.Start(ctx, runtimemgr.DefaultInstanceID, cfg)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	select {
	case <-ctx.Done():
		mgr.Shutdown(runtimemgr.DefaultInstanceID)
	case <-rt.Done():
		if err := rt.Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("%v", err)
		}
	}
}
