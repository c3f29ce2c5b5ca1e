// Command borgvr-server opens one or more BORGVR files and serves them
// over the brick wire protocol using a flag-based entry point. It
// exists to exercise datasource.RemoteDataSource/CachingRemoteDataSource
// end to end without a real deployment.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/config"
	"github.com/gekko3d/borgvr/datasource"
	"github.com/gekko3d/borgvr/logging"
	"github.com/gekko3d/borgvr/wireproto"
)

func main() {
	listen := flag.String("listen", ":9090", "TCP address to listen on")
	datasets := flag.String("datasets", "", "comma-separated list of BORGVR file paths to serve")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	var paths []string
	for _, p := range strings.Split(*datasets, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	cfg := config.ServerConfig{ListenAddr: *listen, DatasetPaths: paths, Debug: *debug}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.New("borgvr-server", cfg.Debug)

	var served []wireproto.Dataset
	for _, path := range cfg.DatasetPaths {
		r, err := brickfile.Open(path)
		if err != nil {
			log.Errorf("open %s: %v", path, err)
			os.Exit(1)
		}
		defer r.Close()
		served = append(served, &datasource.ServerDataset{Reader: r})
		log.Infof("serving %s as dataset %d", path, len(served)-1)
	}

	srv := wireproto.NewServer(served, log)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Errorf("listen on %s: %v", cfg.ListenAddr, err)
		os.Exit(1)
	}
	defer ln.Close()
	log.Infof("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Errorf("accept: %v", err)
			continue
		}
		go srv.Serve(conn)
	}
}
