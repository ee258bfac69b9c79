// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/safebill/assistant/internal/agent"
	"github.com/safebill/assistant/internal/provider"
	"github.com/safebill/assistant/internal/server"
	"github.com/safebill/assistant/internal/store/memory"
	sberr "github.com/safebill/assistant/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec builds a backend over an in-memory store and the echo
// responder, then extracts the OpenAPI document huma derives from the route
// types. No request is ever served.
func generateSpec() ([]byte, error) {
	reg := provider.NewRegistry()
	reg.Register(&provider.Echo{})
	if err := reg.SetDefault(provider.EchoName + "/" + provider.EchoName); err != nil {
		return nil, sberr.Wrapf(err, sberr.CodeCLISetupFailure, "registering responder")
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Sessions: agent.NewSessionManager(memory.New(), 0),
		Router:   reg,
	})
	defer loop.Close()

	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
	}, server.Deps{Loop: loop, Providers: reg})
	if err != nil {
		return nil, sberr.Errorf(sberr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer srv.Close()

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}
