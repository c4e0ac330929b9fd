package main

import (
	"errors"
	"log"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if shouldPrint(err) {
			log.Printf("Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// shouldPrint reports whether err still needs to be shown to the user.
func shouldPrint(err error) bool {
	var reported *reportedError
	return !errors.As(err, &reported)
}
