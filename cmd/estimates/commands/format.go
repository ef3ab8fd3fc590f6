package commands

import (
	"fmt"
	"time"
)

// Shared terminal formatting so every command prints the same way.

const timeRound = 10 * time.Millisecond

func printSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

func printDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

func printKeyValue(key, value string) {
	fmt.Printf("  %-16s : %s\n", key, value)
}
