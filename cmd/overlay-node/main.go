// Command overlay-node runs a single serverless overlay peer with an
// interactive stdin console, grounded on the teacher's cmd/park-node/main.go
// bootstrap-then-run shape: parse flags, start the node, spawn a stdin
// reader goroutine, and drain the node's message/event channels on the
// main goroutine until told to quit.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"overlay-core/internal/overlay"
)

func main() {
	username := flag.String("username", "", "self device id (required)")
	bind := flag.String("bind", "0", "UDP port to bind, 0 for an ephemeral port")
	donor := flag.String("donor", "", "address of an existing peer to bootstrap the DHT from (host:port)")
	stunServer := flag.String("stun", overlay.Default().StunServer, "STUN server for public address discovery, or \"disabled\"")
	gossipInterval := flag.Duration("gossip-interval", overlay.Default().GossipInterval, "gossip fan-out period")
	gossipPeers := flag.Int("gossip-peers", overlay.Default().GossipPeerCount, "peers contacted per gossip round")
	forceLocalhost := flag.Bool("force-localhost", false, "collapse every peer address to 127.0.0.1, for co-located dev clusters")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "overlay-node: -username is required")
		os.Exit(2)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	port := 0
	if _, err := fmt.Sscanf(*bind, "%d", &port); err != nil {
		log.Fatalf("bad -bind value %q: %v", *bind, err)
	}

	node, err := overlay.New(overlay.Config{
		Username:        *username,
		UDPPort:         port,
		GossipInterval:  *gossipInterval,
		GossipPeerCount: *gossipPeers,
		StunServer:      *stunServer,
		ForceLocalhost:  *forceLocalhost,
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("create node: %v", err)
	}

	if err := node.Start(); err != nil {
		log.Fatalf("start node: %v", err)
	}
	defer node.Stop()

	fmt.Printf("Node started.\n")
	fmt.Printf("DeviceID: %s\n", node.DeviceID())
	fmt.Printf("Addr:     %s\n\n", node.LocalAddr())

	if *donor != "" {
		if err := node.AddDonor(*donor); err != nil {
			fmt.Printf("donor bootstrap failed: %v\n", err)
		}
	}

	fmt.Println("Commands:")
	fmt.Println("  /auth <deviceId> <host:port>       - start a handshake with a peer")
	fmt.Println("  /send <deviceId> <message>          - send an authenticated, encrypted message")
	fmt.Println("  /sendraw <deviceId> <message>        - send without encryption or delivery confirmation")
	fmt.Println("  /find <deviceId>                    - look up a device id in the DHT")
	fmt.Println("  /publish <contentId> <text>          - publish content to all authenticated peers")
	fmt.Println("  /request <deviceId> <contentId>      - request content from a peer")
	fmt.Println("  /peers                               - list known peers")
	fmt.Println("  /quit                                - exit")
	fmt.Println()

	go runConsole(node)

	for {
		select {
		case msg, ok := <-node.Messages():
			if !ok {
				return
			}
			fmt.Printf("[MSG] %s: %s\n", msg.FromDeviceID, string(msg.Payload))
		case ev, ok := <-node.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case overlay.PeerAuthenticated:
				fmt.Printf("[PEER] %s authenticated\n", ev.DeviceID)
			case overlay.PeerEvicted:
				fmt.Printf("[PEER] %s evicted (inactive)\n", ev.DeviceID)
			}
		}
	}
}

func runConsole(node *overlay.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			fmt.Println("quitting...")
			node.Stop()
			os.Exit(0)

		case "/auth":
			if len(fields) < 3 {
				fmt.Println("usage: /auth <deviceId> <host:port>")
				continue
			}
			if err := node.Authenticate(fields[1], fields[2]); err != nil {
				fmt.Printf("auth failed: %v\n", err)
			}

		case "/send":
			if len(fields) < 3 {
				fmt.Println("usage: /send <deviceId> <message>")
				continue
			}
			msg := strings.Join(fields[2:], " ")
			ok := node.Send(fields[1], []byte(msg), true, true)
			fmt.Printf("send ok=%v\n", ok)

		case "/sendraw":
			if len(fields) < 3 {
				fmt.Println("usage: /sendraw <deviceId> <message>")
				continue
			}
			msg := strings.Join(fields[2:], " ")
			ok := node.Send(fields[1], []byte(msg), false, false)
			fmt.Printf("send ok=%v\n", ok)

		case "/find":
			if len(fields) < 2 {
				fmt.Println("usage: /find <deviceId>")
				continue
			}
			results, err := node.FindNode(fields[1])
			if err != nil {
				fmt.Printf("find failed: %v\n", err)
				continue
			}
			for _, r := range results {
				fmt.Printf("  %s @ %s:%d\n", r.DeviceID, r.IP, r.Port)
			}

		case "/publish":
			if len(fields) < 3 {
				fmt.Println("usage: /publish <contentId> <text>")
				continue
			}
			data := []byte(strings.Join(fields[2:], " "))
			if err := node.PublishContent(fields[1], data); err != nil {
				fmt.Printf("publish failed: %v\n", err)
			}

		case "/request":
			if len(fields) < 3 {
				fmt.Println("usage: /request <deviceId> <contentId>")
				continue
			}
			if err := node.RequestContent(fields[1], fields[2]); err != nil {
				fmt.Printf("request failed: %v\n", err)
			}

		case "/peers":
			for _, p := range node.Peers() {
				fmt.Printf("  %-16s %s:%d auth=%v lastSeen=%s\n", p.DeviceID, p.Addr, p.Port, p.Authenticated, p.LastSeen.Format(time.RFC3339))
			}

		default:
			fmt.Println("unknown command")
		}
	}
}
