// Command memory-mcp runs the memory MCP server over stdio, exposing the
// tool-result store of a working directory to MCP clients. The directory
// defaults to the current one and can be given as the first argument.
package main

import (
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/codebuddy-ai/codebuddy-memory/pkg/mcpserver/memory"
)

func main() {
	workDir, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	if len(os.Args) > 1 {
		workDir = os.Args[1]
	}

	s := memory.NewServer(workDir)
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
