package main

import (
	"fmt"
	"log"
	"os"

	"github.com/woozymasta/globeview/assets"
)

// Renders the embedded viewer into assets/index.html for static hosting.
func main() {
	page, err := assets.Build(assets.NewMinifier())
	if err != nil {
		log.Fatal("error build page:", err)
	}

	err = os.WriteFile("assets/index.html", page, 0644)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("minify done")
}
