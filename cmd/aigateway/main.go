package main

import (
	"fmt"
	"os"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/config"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "keys":
		cmdKeys(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "config-export":
		cmdConfigExport(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
}

func cmdConfigExport(args []string) {
	path := "aigateway-export.toml"
	if len(args) > 0 {
		path = args[0]
	}
	config.Load("")
	if err := config.ExportConfig(path); err != nil {
		fmt.Fprintf(os.Stderr, "error exporting config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config exported to %s\n", path)
}

func printUsage() {
	fmt.Println(`Usage: aigateway <command> [options]

Commands:
  serve            Start the AI gateway server
  keys             Manage the vault master key (set|delete|check)
  init-config      Generate default config file
  config-export    Export current config to a TOML file
  version          Print version information
  help             Show this help message

Options:
  --config <path>  Config file to use (with 'serve')`)
}
