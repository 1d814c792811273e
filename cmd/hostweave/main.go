package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"hostweave/internal/commands"
)

var version = "dev"

func main() {
	gin.SetMode(gin.ReleaseMode)
	if err := commands.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
