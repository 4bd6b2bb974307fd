package main

import (
	"log"

	paymasterd "paymaster/services/paymasterd"
)

func main() {
	if err := paymasterd.Main(); err != nil {
		log.Fatalf("paymasterd: %v", err)
	}
}
