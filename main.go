package main

import (
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	args := getArgs()
	if args == nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(args.ConfigFile)
	if err != nil {
		log.Fatalf("Unable to load configuration: %s", err)
	}

	if len(args.ServerName) > 0 {
		cfg.ServerName = args.ServerName
	}
	if len(args.SID) > 0 {
		if !isValidSID(args.SID) {
			log.Fatalf("Invalid SID given on command line: %s", args.SID)
		}
		cfg.TS6SID = args.SID
	}

	cb := NewCatbox(cfg)

	if cfg.ModeTablePath != "" {
		modeTable, err := loadModeTable(cfg.ModeTablePath)
		if err != nil {
			log.Fatalf("Unable to load mode table: %s", err)
		}
		cb.ModeTable = modeTable
	}

	ln, err := listen(args, cfg)
	if err != nil {
		log.Fatalf("Unable to listen: %s", err)
	}

	go cb.Listen(ln)
	go cb.Run()

	for _, connect := range cfg.Connects {
		if connect.AutoConnect {
			go autoConnect(cb, connect)
		}
	}

	waitForShutdown(cb, ln)
}

// listen binds the listening socket, reusing an inherited file descriptor
// when one was handed to us (e.g. by a supervising process across a
// restart) rather than opening a fresh one.
func listen(args *Args, cfg *Config) (net.Listener, error) {
	if args.ListenFD >= 0 {
		f := os.NewFile(uintptr(args.ListenFD), "listen-fd")
		return net.FileListener(f)
	}

	return net.Listen("tcp", net.JoinHostPort(cfg.ListenHost, cfg.ListenPort))
}

// autoConnect dials an auto-connect peer once at startup. Reconnection on
// link loss is left to an operator issuing CONNECT again, or a
// supervising process restarting catboxd.
func autoConnect(cb *Catbox, connect *ConnectBlock) {
	conn, err := net.DialTimeout("tcp", connect.Address, cb.Config.DeadTime)
	if err != nil {
		log.Printf("Unable to auto-connect to %s: %s", connect.Name, err)
		return
	}

	id := cb.getClientID()
	client := NewLocalClient(cb, id, conn)
	cb.LocalClients[id] = client
	cb.Metrics.Connections.Inc()

	client.sendServerIntro(connect.SendPassword)
	client.SentSERVER = true

	cb.newEvent(Event{Type: NewClientEvent, Client: client})

	cb.WG.Add(2)
	go client.readLoop()
	go client.writeLoop()
}

// waitForShutdown blocks until SIGINT/SIGTERM, then tears the pool down
// and waits for all goroutines (accept loop, per-connection read/write
// loops) to finish before returning.
func waitForShutdown(cb *Catbox, ln net.Listener) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Printf("Shutting down...")
	cb.shutdown()
	_ = ln.Close()
	cb.WG.Wait()
}
