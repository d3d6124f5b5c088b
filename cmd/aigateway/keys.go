package main

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/vault"
)

func cmdKeys(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: aigateway keys <set|delete|check>")
		os.Exit(1)
	}

	switch args[0] {
	case "set":
		fmt.Print("Enter master key: ")
		key, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading key: %v\n", err)
			os.Exit(1)
		}
		if len(key) == 0 {
			fmt.Fprintln(os.Stderr, "master key must not be empty")
			os.Exit(1)
		}
		if err := vault.StoreMasterKey(string(key)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing master key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Master key stored in the OS keyring")

	case "delete":
		if err := vault.DeleteMasterKey(); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting master key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Master key removed from the OS keyring")

	case "check":
		if _, err := vault.NewFromKeyring(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Println("Master key is available")

	default:
		fmt.Fprintf(os.Stderr, "unknown keys command: %s\n", args[0])
		os.Exit(1)
	}
}
