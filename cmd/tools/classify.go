package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/filecrate/crate"
	"github.com/filecrate/crate/internal"
)

func runClassify(args []string) error {
	flags := flag.NewFlagSet("classify", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: crate-tools classify [options] <file.json>")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	showDDL := flags.Bool("ddl", false, "print CREATE TABLE statements for relational decisions")
	asJSON := flags.Bool("json", false, "print the full result as JSON")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return fmt.Errorf("exactly one input file is required")
	}

	path := flags.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	docs, err := crate.ParsePayload(data)
	if err != nil {
		return err
	}
	profile := crate.Analyze(docs)
	decision := crate.Decide(profile, docs)

	var schema *crate.RelationalSchema
	if decision.Kind == crate.StorageKindSQL {
		schema = crate.Derive(profile, docs, internal.FileIdentity(filepath.Base(path)))
	}

	if *asJSON {
		out := map[string]any{
			"decision": decision,
			"profile":  profile,
		}
		if schema != nil {
			out["schema"] = schema
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("file:       %s\n", path)
	fmt.Printf("documents:  %d\n", profile.SampleSize)
	fmt.Printf("max depth:  %d\n", profile.MaxDepth)
	fmt.Printf("decision:   %s\n", decision.Kind)
	fmt.Printf("reasoning:  %s\n", decision.Reasoning)

	if schema != nil {
		fmt.Printf("root table: %s\n", schema.RootTable().Name)
		if *showDDL {
			gen := internal.NewSQLGenerator()
			fmt.Println("")
			for i := range schema.Tables {
				fmt.Println(gen.CreateTable(&schema.Tables[i]) + ";")
			}
		}
	}
	return nil
}
