// Package main is the entry point for the inventory RAG service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/inventory-rag/cmd/inventory-rag/app"
)

func main() {
	app.NewApp().Run()
}
