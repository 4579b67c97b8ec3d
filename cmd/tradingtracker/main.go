package main

import (
	"log"

	"github.com/alexkukunis/tradingtracker/cmd/tradingtracker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
