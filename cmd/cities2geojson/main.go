package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/geo"
	"github.com/woozymasta/globeview/internal/processor"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Input        string  `short:"i" long:"in" description:"Input city list (.csv, .json or .yaml). Reads CSV from stdin if empty"`
	Output       string  `short:"o" long:"out" description:"Output file path. Writes to stdout if empty"`
	Format       string  `short:"f" long:"format" description:"Output format" choice:"json" choice:"yaml" default:"json"`
	Radius       float64 `short:"r" long:"radius" description:"Globe radius in scene units" default:"5"`
	MarkerHeight float64 `short:"m" long:"marker-height" description:"Marker height above the surface" default:"0.05"`
	Policy       string  `short:"p" long:"policy" description:"Out-of-range coordinates" choice:"reject" choice:"clamp" choice:"wrap" default:"reject"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	policy, err := geo.ParsePolicy(opts.Policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	projector, err := geo.NewProjector(opts.Radius, policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Read Input
	var cities []config.City
	if opts.Input != "" {
		cities, err = processor.LoadCitiesFile(opts.Input)
	} else {
		cities, err = processor.LoadCitiesCSV(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading cities: %v\n", err)
		os.Exit(1)
	}

	fc := processor.CitiesToGeoJSON(cities, projector, opts.MarkerHeight)

	if opts.Output != "" && opts.Format == "json" {
		if err := processor.SaveGeoJSON(opts.Output, fc); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Successfully converted %d of %d cities to %s\n", len(fc.Features), len(cities), opts.Output)
		return
	}

	// marshal
	var outputData []byte
	if opts.Format == "yaml" {
		outputData, err = yaml.Marshal(fc)
	} else {
		outputData, err = json.MarshalIndent(fc, "", "  ")
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling data: %v\n", err)
		os.Exit(1)
	}

	if opts.Output != "" {
		err = os.WriteFile(opts.Output, outputData, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Successfully converted %d of %d cities to %s (format: %s)\n", len(fc.Features), len(cities), opts.Output, opts.Format)
	} else {
		fmt.Println(string(outputData))
	}
}
