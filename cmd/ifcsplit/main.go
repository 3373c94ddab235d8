// ifcsplit is the direct-invocation front end: it runs one filtering
// pass synchronously against the same splitting engine the service
// dispatches to, without the job machinery.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"ifcsplit/internal/domain"
	"ifcsplit/internal/split"
)

func main() {
	var (
		input   = flag.String("in", "", "path to input IFC file")
		output  = flag.String("out", "", "path to output IFC file")
		guids   = flag.String("guids", "", "comma separated GlobalIds to keep")
		types   = flag.String("types", "", "comma separated IfcTypes to keep (e.g. IfcBeam,IfcWall)")
		storeys = flag.String("storeys", "", "comma separated storey names to keep")
		command = flag.String("engine", "ifcsplit-engine", "splitting engine command")
		timeout = flag.Duration("timeout", 5*time.Minute, "maximum run time")
	)
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if *input == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "usage: ifcsplit -in model.ifc -out filtered.ifc [-guids ...] [-types ...] [-storeys ...]")
		os.Exit(2)
	}

	filter := domain.FilterSpec{
		GUIDs:   splitList(*guids),
		Types:   splitList(*types),
		Storeys: splitList(*storeys),
	}.Normalize()
	if filter.Empty() {
		fmt.Fprintln(os.Stderr, "ifcsplit: provide at least one of -guids, -types, -storeys")
		os.Exit(2)
	}

	splitter, err := split.NewExecSplitter(*command, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ifcsplit:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := splitter.Split(ctx, *input, *output, filter); err != nil {
		fmt.Fprintln(os.Stderr, "ifcsplit:", err)
		os.Exit(1)
	}

	slog.Info("done", slog.String("output", *output))
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
