// Command borgvr-brick converts a raw monolithic volume into a BORGVR
// bricked file, using a flag-based entry point.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gekko3d/borgvr/brickfile"
	"github.com/gekko3d/borgvr/bricker"
	"github.com/gekko3d/borgvr/config"
	"github.com/gekko3d/borgvr/logging"
	"github.com/gekko3d/borgvr/volumereader"
)

func main() {
	in := flag.String("in", "", "path to the raw input volume")
	out := flag.String("out", "", "path to write the BORGVR file to")
	width := flag.Uint("width", 0, "volume width in voxels")
	height := flag.Uint("height", 0, "volume height in voxels")
	depth := flag.Uint("depth", 0, "volume depth in voxels")
	components := flag.Uint("components", 1, "components per voxel (1, 2, or 4)")
	bytesPer := flag.Uint("bytes-per-component", 1, "bytes per component (1, 2, or 4)")
	brickSize := flag.Uint("brick-size", 32, "brick edge length in voxels")
	overlap := flag.Uint("overlap", 1, "brick overlap in voxels")
	lz4Compress := flag.Bool("lz4", false, "compress brick payloads with LZ4")
	description := flag.String("description", "", "free-text dataset description")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg := config.BrickConfig{
		InputPath:   *in,
		OutputPath:  *out,
		Width:       uint32(*width),
		Height:      uint32(*height),
		Depth:       uint32(*depth),
		Components:  uint8(*components),
		BytesPer:    uint8(*bytesPer),
		BrickSize:   uint32(*brickSize),
		Overlap:     uint32(*overlap),
		Description: *description,
	}
	if *lz4Compress {
		cfg.Compression = brickfile.CompressionLZ4
	} else {
		cfg.Compression = brickfile.CompressionNone
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.New("borgvr-brick", *debug)

	f, err := os.Open(cfg.InputPath)
	if err != nil {
		log.Errorf("open input: %v", err)
		os.Exit(1)
	}
	defer f.Close()

	reader, err := volumereader.FromRawFile(f, cfg.Width, cfg.Height, cfg.Depth, cfg.Components, cfg.BytesPer)
	if err != nil {
		log.Errorf("open raw volume: %v", err)
		os.Exit(1)
	}

	params := bricker.Params{
		BrickSize:   cfg.BrickSize,
		Overlap:     cfg.Overlap,
		Extension:   bricker.ExtendClamp,
		Compression: cfg.Compression,
		Description: cfg.Description,
		Logger:      log,
	}
	if err := bricker.Run(reader, cfg.OutputPath, params); err != nil {
		log.Errorf("bricking failed: %v", err)
		os.Exit(1)
	}
	log.Infof("wrote %s", cfg.OutputPath)
}
