// Command osdc is a small demo driver for the osd client: it wires a
// Config, a messenger and the client together and exercises the
// public surface end to end (write a page, sync, read it back).
// Mount/argument parsing in the original sense stays out of scope;
// this is just enough main to exercise Client without a real cluster.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/congxueyang/osdclient/pkg/crush"
	"github.com/congxueyang/osdclient/pkg/layout"
	"github.com/congxueyang/osdclient/pkg/messenger"

	osdc "github.com/congxueyang/osdclient"
)

var defaultOSDAddr = "127.0.0.1:6800"

func main() {
	log.SetLevel(log.InfoLevel)

	cfgPath := flag.String("c", "", "ini config path (optional, falls back to defaults)")
	addr := flag.String("osd", defaultOSDAddr, "address of a single OSD to place every PG on, for this demo")
	ino := flag.Uint64("ino", 0x123, "inode number to read/write")
	flag.Parse()

	cfg := osdc.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := osdc.LoadConfig(*cfgPath)
		if err != nil {
			fmt.Printf("error loading config %v: %v\n", *cfgPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	msgr := messenger.NewTCPMessenger()
	client := osdc.NewClient(cfg, msgr, nil)
	defer client.Stop()

	sup := osdc.NewSupervisor(client, cfg.OSDTimeout)
	sup.Start(context.Background())
	defer sup.Stop()

	// A single-OSD, single-PG topology is enough to exercise the
	// dispatcher end to end without a real monitor/osdmap feed.
	client.InstallDemoMap(crush.OSDID(0), *addr, 0, 1)

	fl := layout.FileLayout{StripeUnit: 4 << 20, StripeCount: 1, ObjectSize: 4 << 20}
	vino := osdc.Vino{Ino: *ino, Snap: osdc.NoSnap}

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := client.WritePages(ctx, vino, fl, 0, 1, osdc.SnapContext{Seq: 0, Snaps: nil},
		0, uint64(len(payload)), 0, 0, time.Now(), [][]byte{payload}, nil,
		true /* onDisk */, false /* doSync */, false /* nofail */)
	if err != nil {
		fmt.Printf("write failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d bytes\n", n)

	if err := client.Sync(ctx); err != nil {
		fmt.Printf("sync failed: %v\n", err)
		os.Exit(1)
	}

	readBuf := make([]byte, 4096)
	n, err = client.ReadPages(ctx, vino, fl, 0, 1, 0, uint64(len(readBuf)), 0, 0, [][]byte{readBuf}, nil)
	if err != nil {
		fmt.Printf("read failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("read %d bytes\n", n)
}
